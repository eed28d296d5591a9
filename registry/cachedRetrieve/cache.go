package cachedRetrieve

import (
	"context"
	"dataset-registry/registry"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mohae/deepcopy"
)

var (
	_ registry.RetrieveBackend   = (*Cache)(nil)
	_ registry.DatasetRegisterer = (*Cache)(nil)
	_ registry.DatasetDeleter    = (*Cache)(nil)
)

type kind string

const (
	kindReadme      kind = "readme"
	kindManifest    kind = "manifest"
	kindAnnotations kind = "annotations"
	kindTags        kind = "tags"
)

var kinds = []kind{kindReadme, kindManifest, kindAnnotations, kindTags}

// Cache is a read-through LRU cache in front of a retrieve backend. The
// registration and deletion hooks forward to the wrapped backend when it
// has them and always evict the URI.
type Cache struct {
	inner registry.RetrieveBackend
	cache *lru.LRU[string, any]

	// generation counts invalidations. A load only populates the cache if no
	// invalidation happened while it was in flight.
	mu         sync.Mutex
	generation uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache usage.
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int
}

// New wraps inner with a cache of at most size entries. A zero ttl keeps
// entries until they are evicted.
func New(inner registry.RetrieveBackend, size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1
	}

	return &Cache{
		inner: inner,
		cache: lru.NewLRU[string, any](size, nil, ttl),
	}
}

func key(k kind, uri string) string {
	return string(k) + "\x00" + uri
}

// Invalidate removes every cached value of uri.
func (c *Cache) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for _, k := range kinds {
		c.cache.Remove(key(k, uri))
	}
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

// store caches v unless an invalidation happened since generation was read.
func (c *Cache) store(k kind, uri string, v any, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation == generation {
		c.cache.Add(key(k, uri), v)
	}
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: c.cache.Len(),
	}
}

func (c *Cache) RegisterDataset(ctx context.Context, info *registry.DatasetInfo) error {
	if info != nil {
		defer c.Invalidate(info.URI)
	}

	if hook, ok := c.inner.(registry.DatasetRegisterer); ok {
		return hook.RegisterDataset(ctx, info)
	}

	return nil
}

func (c *Cache) DeleteDataset(ctx context.Context, uri string) error {
	defer c.Invalidate(uri)

	if hook, ok := c.inner.(registry.DatasetDeleter); ok {
		return hook.DeleteDataset(ctx, uri)
	}

	return nil
}

// lookup returns the cached value or loads and caches it. Errors are not
// cached, and neither is a value loaded across an invalidation since it may
// predate the registration that triggered it.
func lookup[T any](c *Cache, k kind, uri string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key(k, uri)); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)

			return typed, nil
		}
	}
	c.misses.Add(1)

	generation := c.currentGeneration()
	v, err := load()
	if err != nil {
		var zero T

		return zero, err
	}
	c.store(k, uri, v, generation)

	return v, nil
}

func (c *Cache) GetReadme(ctx context.Context, uri string) (string, error) {
	return lookup(c, kindReadme, uri, func() (string, error) {
		return c.inner.GetReadme(ctx, uri)
	})
}

// GetManifest returns a copy so callers cannot modify the cached value.
func (c *Cache) GetManifest(ctx context.Context, uri string) (map[string]any, error) {
	m, err := lookup(c, kindManifest, uri, func() (map[string]any, error) {
		return c.inner.GetManifest(ctx, uri)
	})
	if err != nil {
		return nil, err
	}

	return copyMap(m), nil
}

func (c *Cache) GetAnnotations(ctx context.Context, uri string) (map[string]any, error) {
	m, err := lookup(c, kindAnnotations, uri, func() (map[string]any, error) {
		return c.inner.GetAnnotations(ctx, uri)
	})
	if err != nil {
		return nil, err
	}

	return copyMap(m), nil
}

func (c *Cache) GetTags(ctx context.Context, uri string) ([]string, error) {
	tags, err := lookup(c, kindTags, uri, func() ([]string, error) {
		return c.inner.GetTags(ctx, uri)
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(tags), nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	cpy, _ := deepcopy.Copy(m).(map[string]any)

	return cpy
}
