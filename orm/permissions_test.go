package orm

import (
	"context"
	"dataset-registry/pagination"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURIs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Test CreateBaseURI - should reject trailing slashes and duplicates
	t.Run("CreateBaseURI", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		require.NoError(t, db.CreateBaseURI(ctx, "s3://bucket"))

		exists, err := db.BaseURIExists(ctx, "s3://bucket")
		require.NoError(t, err)
		assert.True(t, exists)

		var conflict *ConflictError
		assert.True(t, errors.As(db.CreateBaseURI(ctx, "s3://bucket"), &conflict))

		var badInput *BadInputError
		assert.True(t, errors.As(db.CreateBaseURI(ctx, "s3://other/"), &badInput))
		assert.True(t, errors.As(db.CreateBaseURI(ctx, ""), &badInput))

		exists, err = db.BaseURIExists(ctx, "s3://other/")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	// Test ListBaseURIs - should sort and page
	t.Run("ListBaseURIs", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		for _, b := range []string{"s3://c", "s3://a", "s3://b"} {
			require.NoError(t, db.CreateBaseURI(ctx, b))
		}

		list, total, err := db.ListBaseURIs(
			ctx,
			[]pagination.Key{{Field: "base_uri", Desc: true}},
			pagination.Page{Number: 2, Size: 2},
		)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, list, 1)
		assert.Equal(t, "s3://a", list[0].BaseURI)
	})

	// Test DeleteBaseURI - should cascade to grants and dataset rows
	t.Run("DeleteBaseURI", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		require.NoError(t, db.CreateUser(ctx, "alice", false))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://b"))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://keep"))
		require.NoError(t, db.PutDataset(ctx, datasetInput("s3://b", "1111", "one")))

		require.NoError(t, db.DeleteBaseURI(ctx, "s3://b"))

		exists, err := db.BaseURIExists(ctx, "s3://b")
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = db.GetDataset(ctx, "s3://b/1111")
		assert.True(t, IsNotFound(err, KindDataset))

		baseURIs, err := db.ListPermittedBaseURIs(ctx, Search, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"s3://keep"}, baseURIs)

		assert.True(t, IsNotFound(db.DeleteBaseURI(ctx, "s3://b"), KindBaseURI))
	})
}

func TestPermissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Test Grant - should be idempotent and create the base URI
	t.Run("Grant", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		require.NoError(t, db.CreateUser(ctx, "alice", false))

		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://b"))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://b"))

		exists, err := db.BaseURIExists(ctx, "s3://b")
		require.NoError(t, err)
		assert.True(t, exists)

		ok, err := db.HasPermission(ctx, Search, "alice", "s3://b")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.HasPermission(ctx, Register, "alice", "s3://b")
		require.NoError(t, err)
		assert.False(t, ok, "relations are independent")

		assert.True(t, IsNotFound(db.GrantRegister(ctx, "ghost", "s3://b"), KindUser))
	})

	// Test Revoke - should remove only the named relation
	t.Run("Revoke", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		require.NoError(t, db.CreateUser(ctx, "alice", false))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://b"))
		require.NoError(t, db.GrantRegister(ctx, "alice", "s3://b"))

		require.NoError(t, db.Revoke(ctx, Register, "alice", "s3://b"))
		require.NoError(t, db.Revoke(ctx, Register, "alice", "s3://b"))

		info, err := db.GetPermissionInfo(ctx, "s3://b")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, info.SearchUsers)
		assert.Equal(t, []string{}, info.RegisterUsers)
	})

	// Test SetPermissions - should replace both relations atomically
	t.Run("SetPermissions", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		for _, u := range []string{"alice", "bob", "carol"} {
			require.NoError(t, db.CreateUser(ctx, u, false))
		}
		require.NoError(t, db.GrantSearch(ctx, "carol", "s3://b"))

		require.NoError(t, db.SetPermissions(ctx, PermissionInfo{
			BaseURI:       "s3://b",
			SearchUsers:   []string{"bob", "alice"},
			RegisterUsers: []string{"alice"},
		}))

		info, err := db.GetPermissionInfo(ctx, "s3://b")
		require.NoError(t, err)
		assert.Equal(t, "s3://b", info.BaseURI)
		assert.Equal(t, []string{"alice", "bob"}, info.SearchUsers)
		assert.Equal(t, []string{"alice"}, info.RegisterUsers)

		err = db.SetPermissions(ctx, PermissionInfo{
			BaseURI:     "s3://b",
			SearchUsers: []string{"ghost"},
		})
		assert.True(t, IsNotFound(err, KindUser))

		info, err = db.GetPermissionInfo(ctx, "s3://b")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, info.SearchUsers, "failed update must roll back")
	})

	// Test ListPermittedBaseURIs - should be sorted and empty for unknown users
	t.Run("ListPermittedBaseURIs", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		require.NoError(t, db.CreateUser(ctx, "alice", false))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://z"))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://a"))
		require.NoError(t, db.GrantRegister(ctx, "alice", "s3://m"))

		baseURIs, err := db.ListPermittedBaseURIs(ctx, Search, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"s3://a", "s3://z"}, baseURIs)

		baseURIs, err = db.ListPermittedBaseURIs(ctx, Register, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"s3://m"}, baseURIs)

		baseURIs, err = db.ListPermittedBaseURIs(ctx, Search, "ghost")
		require.NoError(t, err)
		assert.Equal(t, []string{}, baseURIs)
	})

	t.Run("GetPermissionInfoUnknownBaseURI", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		_, err := db.GetPermissionInfo(ctx, "s3://nowhere")
		assert.True(t, IsNotFound(err, KindBaseURI))
	})
}
