package orm

import (
	"context"
	"dataset-registry/pagination"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Test CreateUser - should store the user and reject duplicates
	t.Run("CreateUser", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		require.NoError(t, db.CreateUser(ctx, "alice", false))

		user, err := db.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.False(t, user.IsAdmin)

		err = db.CreateUser(ctx, "alice", true)
		var conflict *ConflictError
		assert.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)

		err = db.CreateUser(ctx, " ", false)
		var badInput *BadInputError
		assert.True(t, errors.As(err, &badInput))
	})

	// Test PutUser - should create or update the admin flag
	t.Run("PutUser", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		require.NoError(t, db.PutUser(ctx, "root", true))
		user, err := db.GetUser(ctx, "root")
		require.NoError(t, err)
		assert.True(t, user.IsAdmin)

		require.NoError(t, db.PutUser(ctx, "root", false))
		user, err = db.GetUser(ctx, "root")
		require.NoError(t, err)
		assert.False(t, user.IsAdmin)
	})

	// Test GetUser with an unknown name - should be a NotFoundError of kind user
	t.Run("GetUnknownUser", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		_, err := db.GetUser(ctx, "ghost")
		assert.True(t, IsNotFound(err, KindUser))
		assert.False(t, IsNotFound(err, KindDataset))

		exists, err := db.UserExists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = db.UserExists(ctx, "")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	// Test DeleteUser - should remove the user and its grants
	t.Run("DeleteUser", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		require.NoError(t, db.CreateUser(ctx, "alice", false))
		require.NoError(t, db.GrantSearch(ctx, "alice", "s3://b"))
		require.NoError(t, db.GrantRegister(ctx, "alice", "s3://b"))

		require.NoError(t, db.DeleteUser(ctx, "alice"))

		exists, err := db.UserExists(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, exists)

		info, err := db.GetPermissionInfo(ctx, "s3://b")
		require.NoError(t, err)
		assert.Empty(t, info.SearchUsers)
		assert.Empty(t, info.RegisterUsers)

		assert.True(t, IsNotFound(db.DeleteUser(ctx, "alice"), KindUser))
	})

	// Test ListUsers - should sort, page and count
	t.Run("ListUsers", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		for _, u := range []struct {
			name  string
			admin bool
		}{{"carol", false}, {"alice", true}, {"bob", false}} {
			require.NoError(t, db.CreateUser(ctx, u.name, u.admin))
		}

		users, total, err := db.ListUsers(ctx, nil, pagination.Page{Number: 1, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bob", users[1].Username)

		users, _, err = db.ListUsers(
			ctx,
			[]pagination.Key{{Field: "is_admin", Desc: true}},
			pagination.Page{Number: 1, Size: 10},
		)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, []string{"alice", "bob", "carol"}, usernames(users))

		_, _, err = db.ListUsers(ctx, []pagination.Key{{Field: "password"}}, pagination.Page{})
		var badInput *BadInputError
		assert.True(t, errors.As(err, &badInput))
	})
}

func usernames(users []User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}

	return out
}
