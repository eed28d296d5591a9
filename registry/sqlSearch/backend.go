package sqlSearch

import (
	"context"
	"dataset-registry/pagination"
	"dataset-registry/query"
	"dataset-registry/registry"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	_ registry.SearchBackend     = (*Backend)(nil)
	_ registry.RetrieveBackend   = (*Backend)(nil)
	_ registry.DatasetRegisterer = (*Backend)(nil)
	_ registry.DatasetDeleter    = (*Backend)(nil)
)

// Backend implements search and retrieve on relational tables of its own.
// It may share the index connection.
type Backend struct {
	db *gorm.DB
}

// New migrates the backend tables and returns the backend.
func New(db *gorm.DB) (*Backend, error) {
	if err := db.AutoMigrate(&Entry{}, &Tag{}); err != nil {
		return nil, fmt.Errorf("failed to migrate search tables: %w", err)
	}

	return &Backend{db: db}, nil
}

// RegisterDataset replaces the entry and tags of info.URI in one
// transaction.
func (b *Backend) RegisterDataset(ctx context.Context, info *registry.DatasetInfo) error {
	if info == nil || info.URI == "" || info.BaseURI == "" {
		return &registry.ValidationError{Problems: []string{"uri and base_uri are required"}}
	}

	annotations, err := json.Marshal(orEmpty(info.Annotations))
	if err != nil {
		return &registry.ValidationError{Problems: []string{"annotations: " + err.Error()}}
	}

	record := info.Record()
	entry := &Entry{
		URI:             record.URI,
		BaseURI:         record.BaseURI,
		UUID:            record.UUID,
		Name:            record.Name,
		CreatorUsername: record.CreatorUsername,
		FrozenAt:        record.FrozenAt,
		CreatedAt:       record.CreatedAt,
		NumberOfItems:   record.NumberOfItems,
		SizeInBytes:     record.SizeInBytes,
		Readme:          info.Readme,
		Manifest:        datatypes.NewJSONType(orEmpty(info.Manifest)),
		Annotations:     datatypes.JSON(annotations),
	}

	tags := make([]Tag, 0, len(info.Tags))
	seen := map[string]bool{}
	for _, t := range info.Tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, Tag{URI: info.URI, Tag: t, Position: len(tags)})
	}

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteURI(ctx, tx, info.URI); err != nil {
			return err
		}

		if err := gorm.G[Entry](tx).Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to create search entry: %w", err)
		}

		if len(tags) > 0 {
			if err := gorm.G[Tag](tx).CreateInBatches(ctx, &tags, len(tags)); err != nil {
				return fmt.Errorf("failed to create search tags: %w", err)
			}
		}

		return nil
	})
}

func deleteURI(ctx context.Context, tx *gorm.DB, uri string) error {
	if _, err := gorm.G[Tag](tx).Where("uri = ?", uri).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete search tags: %w", err)
	}
	if _, err := gorm.G[Entry](tx).Where("uri = ?", uri).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete search entry: %w", err)
	}

	return nil
}

// DeleteDataset removes the entry and tags of uri. Unknown URIs are ignored.
func (b *Backend) DeleteDataset(ctx context.Context, uri string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteURI(ctx, tx, uri)
	})
}

func (b *Backend) Search(
	ctx context.Context,
	filter query.Filter,
	keys []pagination.Key,
	page pagination.Page,
) ([]registry.DatasetRecord, int64, error) {
	cond, err := condition(filter)
	if err != nil {
		return nil, 0, &registry.ValidationError{Problems: []string{err.Error()}}
	}

	scoped := func() *gorm.DB {
		tx := b.db.WithContext(ctx).Model(&Entry{})
		if cond != nil {
			tx = tx.Where(cond)
		}

		return tx
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count search entries: %w", err)
	}

	tx, err := pagination.Apply(scoped(), pagination.WithTiebreak(keys, "uri"), columns, page)
	if err != nil {
		return nil, 0, &registry.ValidationError{Problems: []string{err.Error()}}
	}

	var found []Entry
	if err := tx.Omit("readme", "manifest", "annotations").Find(&found).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to search entries: %w", err)
	}

	log.Debug().
		Stringer("filter", filterString{filter}).
		Int64("total", total).
		Int("returned", len(found)).
		Msg("Searched datasets")

	records := make([]registry.DatasetRecord, 0, len(found))
	for _, e := range found {
		records = append(records, registry.DatasetRecord{
			URI:             e.URI,
			BaseURI:         e.BaseURI,
			UUID:            e.UUID,
			Name:            e.Name,
			CreatorUsername: e.CreatorUsername,
			FrozenAt:        e.FrozenAt.UTC(),
			CreatedAt:       e.CreatedAt.UTC(),
			NumberOfItems:   e.NumberOfItems,
			SizeInBytes:     e.SizeInBytes,
		})
	}

	return records, total, nil
}

type filterString struct {
	filter query.Filter
}

func (f filterString) String() string {
	if f.filter == nil {
		return query.MatchAll{}.String()
	}

	return f.filter.String()
}

func (b *Backend) LookupURIs(
	ctx context.Context,
	uuid string,
	baseURIs []string,
) ([]registry.URIRecord, error) {
	records := []registry.URIRecord{}
	if len(baseURIs) == 0 {
		return records, nil
	}

	found, err := gorm.G[Entry](b.db).
		Select("uri", "base_uri", "uuid", "name").
		Where("uuid = ? AND base_uri IN ?", uuid, baseURIs).
		Order("uri").
		Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dataset URIs: %w", err)
	}

	for _, e := range found {
		records = append(records, registry.URIRecord{
			URI:     e.URI,
			BaseURI: e.BaseURI,
			UUID:    e.UUID,
			Name:    e.Name,
		})
	}

	return records, nil
}

func (b *Backend) entry(ctx context.Context, uri string, fields ...string) (*Entry, error) {
	var e Entry
	err := b.db.WithContext(ctx).Select(fields).Where("uri = ?", uri).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registry.UnknownURIError{URI: uri}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search entry: %w", err)
	}

	return &e, nil
}

func (b *Backend) GetReadme(ctx context.Context, uri string) (string, error) {
	e, err := b.entry(ctx, uri, "uri", "readme")
	if err != nil {
		return "", err
	}

	return e.Readme, nil
}

func (b *Backend) GetManifest(ctx context.Context, uri string) (map[string]any, error) {
	e, err := b.entry(ctx, uri, "uri", "manifest")
	if err != nil {
		return nil, err
	}

	return orEmpty(e.Manifest.Data()), nil
}

func (b *Backend) GetAnnotations(ctx context.Context, uri string) (map[string]any, error) {
	e, err := b.entry(ctx, uri, "uri", "annotations")
	if err != nil {
		return nil, err
	}

	annotations := map[string]any{}
	if len(e.Annotations) > 0 {
		if err := json.Unmarshal(e.Annotations, &annotations); err != nil {
			return nil, fmt.Errorf("failed to decode annotations: %w", err)
		}
	}

	return annotations, nil
}

func (b *Backend) GetTags(ctx context.Context, uri string) ([]string, error) {
	if _, err := b.entry(ctx, uri, "uri"); err != nil {
		return nil, err
	}

	rows, err := gorm.G[Tag](b.db).Where("uri = ?", uri).Order("position").Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	tags := make([]string, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, row.Tag)
	}

	return tags, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
