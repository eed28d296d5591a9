package sqlSearch

import (
	"context"
	"dataset-registry/pagination"
	"dataset-registry/query"
	"dataset-registry/registry"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var frozenAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newBackend(t *testing.T) *Backend {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "search.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	b, err := New(db)
	require.NoError(t, err)

	return b
}

func dataset(base, uuid, name, creator string, items *int64, tags ...string) *registry.DatasetInfo {
	return &registry.DatasetInfo{
		UUID:            uuid,
		BaseURI:         base,
		URI:             base + "/" + uuid,
		Name:            name,
		Type:            registry.DatasetType,
		Readme:          "---\ndescription: " + name + "\n",
		Manifest:        map[string]any{"hash_function": "md5sum_hexdigest"},
		CreatorUsername: creator,
		FrozenAt:        registry.NewFlexTime(frozenAt),
		Annotations:     map[string]any{"project": name},
		Tags:            tags,
		NumberOfItems:   items,
	}
}

func ptr(v int64) *int64 {
	return &v
}

// seed stores s3://a/1 apples, s3://a/2 pears (no item count), s3://b/1
// apples by bob.
func seed(t *testing.T) *Backend {
	t.Helper()

	b := newBackend(t)
	ctx := context.Background()
	for _, info := range []*registry.DatasetInfo{
		dataset("s3://a", "1", "apples", "alice", ptr(3), "fruit", "red"),
		dataset("s3://a", "2", "pears", "alice", nil, "fruit"),
		dataset("s3://b", "1", "apples", "bob", ptr(1), "red"),
	} {
		require.NoError(t, b.RegisterDataset(ctx, info))
	}

	return b
}

func uris(records []registry.DatasetRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.URI)
	}

	return out
}

func TestSearch(t *testing.T) {
	t.Parallel()

	b := seed(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter query.Filter
		keys   []pagination.Key
		want   []string
	}{
		{
			name: "match all ordered by uri",
			want: []string{"s3://a/1", "s3://a/2", "s3://b/1"},
		},
		{
			name:   "text is case-insensitive",
			filter: query.Text{Query: "APPLES"},
			want:   []string{"s3://a/1", "s3://b/1"},
		},
		{
			name:   "text matches tags",
			filter: query.Text{Query: "red"},
			want:   []string{"s3://a/1", "s3://b/1"},
		},
		{
			name:   "tag membership",
			filter: query.Equal{Field: query.DocTags, Value: "fruit"},
			want:   []string{"s3://a/1", "s3://a/2"},
		},
		{
			name:   "contains all tags with duplicates",
			filter: query.ContainsAll{Field: query.DocTags, Values: []string{"red", "fruit", "red"}},
			want:   []string{"s3://a/1"},
		},
		{
			name: "or and and",
			filter: query.And{Filters: []query.Filter{
				query.Or{Filters: []query.Filter{
					query.Equal{Field: query.DocBaseURI, Value: "s3://b"},
					query.Equal{Field: query.DocCreatorUsername, Value: "alice"},
				}},
				query.Equal{Field: query.DocUUID, Value: "1"},
			}},
			want: []string{"s3://a/1", "s3://b/1"},
		},
		{
			name:   "or with a match all branch",
			filter: query.Or{Filters: []query.Filter{query.MatchAll{}, query.Equal{Field: query.DocUUID, Value: "9"}}},
			want:   []string{"s3://a/1", "s3://a/2", "s3://b/1"},
		},
		{
			name: "nulls first ascending",
			keys: []pagination.Key{{Field: "number_of_items"}},
			want: []string{"s3://a/2", "s3://b/1", "s3://a/1"},
		},
		{
			name: "nulls last descending",
			keys: []pagination.Key{{Field: "number_of_items", Desc: true}},
			want: []string{"s3://a/1", "s3://b/1", "s3://a/2"},
		},
		{
			name: "ties broken by uri",
			keys: []pagination.Key{{Field: "name", Desc: true}},
			want: []string{"s3://a/2", "s3://a/1", "s3://b/1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			records, total, err := b.Search(ctx, tt.filter, tt.keys, pagination.Page{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, uris(records))
			assert.Equal(t, int64(len(tt.want)), total)
		})
	}
}

func TestSearchRecords(t *testing.T) {
	t.Parallel()

	b := seed(t)
	ctx := context.Background()

	records, total, err := b.Search(ctx, nil, nil, pagination.Page{Number: 1, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "s3://a", record.BaseURI)
	assert.Equal(t, "apples", record.Name)
	assert.Equal(t, "alice", record.CreatorUsername)
	assert.True(t, record.FrozenAt.Equal(frozenAt))
	assert.True(t, record.CreatedAt.Equal(frozenAt), "created_at defaults to frozen_at")
	require.NotNil(t, record.NumberOfItems)
	assert.Equal(t, int64(3), *record.NumberOfItems)

	// Test an unknown sort field - should be a validation error
	_, _, err = b.Search(ctx, nil, []pagination.Key{{Field: "readme"}}, pagination.Page{})
	var verr *registry.ValidationError
	assert.ErrorAs(t, err, &verr)

	// Test an unsupported filter field - should be a validation error
	_, _, err = b.Search(ctx, query.Equal{Field: "name", Value: "apples"}, nil, pagination.Page{})
	assert.ErrorAs(t, err, &verr)
}

func TestLookupURIs(t *testing.T) {
	t.Parallel()

	b := seed(t)
	ctx := context.Background()

	records, err := b.LookupURIs(ctx, "1", []string{"s3://b", "s3://a"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, registry.URIRecord{URI: "s3://a/1", BaseURI: "s3://a", UUID: "1", Name: "apples"}, records[0])
	assert.Equal(t, "s3://b/1", records[1].URI)

	records, err = b.LookupURIs(ctx, "1", []string{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGetters(t *testing.T) {
	t.Parallel()

	b := seed(t)
	ctx := context.Background()

	readme, err := b.GetReadme(ctx, "s3://a/2")
	require.NoError(t, err)
	assert.Equal(t, "---\ndescription: pears\n", readme)

	manifest, err := b.GetManifest(ctx, "s3://a/2")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hash_function": "md5sum_hexdigest"}, manifest)

	annotations, err := b.GetAnnotations(ctx, "s3://a/2")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"project": "pears"}, annotations)

	tags, err := b.GetTags(ctx, "s3://a/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fruit", "red"}, tags, "registered order is kept")

	tags, err = b.GetTags(ctx, "s3://a/2")
	require.NoError(t, err)
	assert.Equal(t, []string{"fruit"}, tags)

	for _, get := range []func() error{
		func() error { _, err := b.GetReadme(ctx, "s3://a/9"); return err },
		func() error { _, err := b.GetManifest(ctx, "s3://a/9"); return err },
		func() error { _, err := b.GetAnnotations(ctx, "s3://a/9"); return err },
		func() error { _, err := b.GetTags(ctx, "s3://a/9"); return err },
	} {
		assert.True(t, registry.IsUnknownURI(get()))
	}
}

func TestRegisterReplacesAndDelete(t *testing.T) {
	t.Parallel()

	b := seed(t)
	ctx := context.Background()

	// Test re-registration - should replace the entry and its tags
	require.NoError(t, b.RegisterDataset(ctx, dataset("s3://a", "1", "apples v2", "alice", nil, "green", "green")))

	tags, err := b.GetTags(ctx, "s3://a/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"green"}, tags)

	records, _, err := b.Search(ctx, query.Equal{Field: query.DocTags, Value: "red"}, nil, pagination.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://b/1"}, uris(records))

	require.NoError(t, b.DeleteDataset(ctx, "s3://a/1"))
	require.NoError(t, b.DeleteDataset(ctx, "s3://a/1"))

	_, err = b.GetReadme(ctx, "s3://a/1")
	assert.True(t, registry.IsUnknownURI(err))

	_, total, err := b.Search(ctx, nil, nil, pagination.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	var verr *registry.ValidationError
	assert.ErrorAs(t, b.RegisterDataset(ctx, &registry.DatasetInfo{URI: "s3://x/1"}), &verr)
}
