package memoryBackend

import (
	"context"
	"dataset-registry/orm"
	"dataset-registry/pagination"
	"dataset-registry/query"
	"dataset-registry/registry"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mohae/deepcopy"
)

var (
	_ registry.SearchBackend     = (*MemoryBackend)(nil)
	_ registry.RetrieveBackend   = (*MemoryBackend)(nil)
	_ registry.DatasetRegisterer = (*MemoryBackend)(nil)
	_ registry.DatasetDeleter    = (*MemoryBackend)(nil)
)

// MemoryBackend implements the search and retrieve interfaces using
// in-memory storage. Used for tests and single-process deployments.
type MemoryBackend struct {
	mu       sync.RWMutex
	datasets map[string]*registry.DatasetInfo
}

// New creates a new memory-based backend
func New() *MemoryBackend {
	return &MemoryBackend{
		datasets: make(map[string]*registry.DatasetInfo),
	}
}

// RegisterDataset stores info, replacing any dataset with the same URI
func (b *MemoryBackend) RegisterDataset(_ context.Context, info *registry.DatasetInfo) error {
	if info == nil || info.URI == "" || info.BaseURI == "" {
		return &registry.ValidationError{Problems: []string{"uri and base_uri are required"}}
	}

	stored := info.Clone()
	stored.Normalize()

	b.mu.Lock()
	b.datasets[info.URI] = stored
	b.mu.Unlock()

	return nil
}

// DeleteDataset removes uri. Unknown URIs are ignored.
func (b *MemoryBackend) DeleteDataset(_ context.Context, uri string) error {
	b.mu.Lock()
	delete(b.datasets, uri)
	b.mu.Unlock()

	return nil
}

func (b *MemoryBackend) Search(
	_ context.Context,
	filter query.Filter,
	keys []pagination.Key,
	page pagination.Page,
) ([]registry.DatasetRecord, int64, error) {
	b.mu.RLock()
	var matches []registry.DatasetRecord
	for _, info := range b.datasets {
		ok, err := Match(filter, info)
		if err != nil {
			b.mu.RUnlock()

			return nil, 0, err
		}
		if ok {
			matches = append(matches, info.Record())
		}
	}
	b.mu.RUnlock()

	allowed := orm.DatasetSortFields()
	for _, k := range keys {
		if !slices.Contains(allowed, k.Field) {
			return nil, 0, &registry.ValidationError{
				Problems: []string{(&pagination.InvalidSortError{Field: k.Field, Allowed: allowed}).Error()},
			}
		}
	}

	pagination.Sort(matches, pagination.WithTiebreak(keys, "uri"), registry.DatasetRecord.SortValue)

	return pagination.Window(matches, page), int64(len(matches)), nil
}

// LookupURIs returns every instance of uuid under baseURIs, ordered by URI.
func (b *MemoryBackend) LookupURIs(
	_ context.Context,
	uuid string,
	baseURIs []string,
) ([]registry.URIRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := []registry.URIRecord{}
	for _, info := range b.datasets {
		if info.UUID == uuid && slices.Contains(baseURIs, info.BaseURI) {
			records = append(records, registry.URIRecord{
				URI:     info.URI,
				BaseURI: info.BaseURI,
				UUID:    info.UUID,
				Name:    info.Name,
			})
		}
	}
	slices.SortFunc(records, func(a, b registry.URIRecord) int {
		return strings.Compare(a.URI, b.URI)
	})

	return records, nil
}

func (b *MemoryBackend) get(uri string) (*registry.DatasetInfo, error) {
	b.mu.RLock()
	info, exists := b.datasets[uri]
	b.mu.RUnlock()

	if !exists {
		return nil, &registry.UnknownURIError{URI: uri}
	}

	return info, nil
}

func (b *MemoryBackend) GetReadme(_ context.Context, uri string) (string, error) {
	info, err := b.get(uri)
	if err != nil {
		return "", err
	}

	return info.Readme, nil
}

// GetManifest returns a copy to prevent external modifications
func (b *MemoryBackend) GetManifest(_ context.Context, uri string) (map[string]any, error) {
	info, err := b.get(uri)
	if err != nil {
		return nil, err
	}

	return copyMap(info.Manifest), nil
}

func (b *MemoryBackend) GetAnnotations(_ context.Context, uri string) (map[string]any, error) {
	info, err := b.get(uri)
	if err != nil {
		return nil, err
	}

	return copyMap(info.Annotations), nil
}

func (b *MemoryBackend) GetTags(_ context.Context, uri string) ([]string, error) {
	info, err := b.get(uri)
	if err != nil {
		return nil, err
	}

	if info.Tags == nil {
		return []string{}, nil
	}

	return slices.Clone(info.Tags), nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	cpy, _ := deepcopy.Copy(m).(map[string]any)

	return cpy
}

// Clear removes all datasets from memory (useful for testing)
func (b *MemoryBackend) Clear() {
	b.mu.Lock()
	b.datasets = make(map[string]*registry.DatasetInfo)
	b.mu.Unlock()
}

// Count returns the number of datasets stored (useful for testing)
func (b *MemoryBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.datasets)
}

// Match evaluates filter against one dataset.
func Match(filter query.Filter, info *registry.DatasetInfo) (bool, error) {
	switch f := filter.(type) {
	case nil, query.MatchAll:
		return true, nil
	case query.Text:
		return matchText(f.Query, info), nil
	case query.Equal:
		if f.Field == query.DocTags {
			return slices.Contains(info.Tags, f.Value), nil
		}
		value, err := field(f.Field, info)
		if err != nil {
			return false, err
		}

		return value == f.Value, nil
	case query.ContainsAll:
		if f.Field != query.DocTags {
			return false, fmt.Errorf("contains-all filter on unsupported field %q", f.Field)
		}
		for _, v := range f.Values {
			if !slices.Contains(info.Tags, v) {
				return false, nil
			}
		}

		return true, nil
	case query.Or:
		for _, sub := range f.Filters {
			ok, err := Match(sub, info)
			if err != nil || ok {
				return ok, err
			}
		}

		return false, nil
	case query.And:
		for _, sub := range f.Filters {
			ok, err := Match(sub, info)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	default:
		return false, fmt.Errorf("unsupported filter %T", filter)
	}
}

func field(name string, info *registry.DatasetInfo) (string, error) {
	switch name {
	case query.DocCreatorUsername:
		return info.CreatorUsername, nil
	case query.DocBaseURI:
		return info.BaseURI, nil
	case query.DocUUID:
		return info.UUID, nil
	default:
		return "", fmt.Errorf("unsupported filter field %q", name)
	}
}

// matchText is a case-insensitive substring match over the text fields
// and the tags.
func matchText(text string, info *registry.DatasetInfo) bool {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return true
	}

	haystack := []string{
		info.Name,
		info.Readme,
		info.URI,
		info.UUID,
		info.CreatorUsername,
	}
	haystack = append(haystack, info.Tags...)

	for _, s := range haystack {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}

	return false
}
