package orm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStoreError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, storeError(nil, KindUser, "get user", `username="grumpy"`))

	// Test storeError with a missing row - should name the unregistered subject
	err := storeError(gorm.ErrRecordNotFound, KindUser, "get user", `username="grumpy"`)
	assert.True(t, IsNotFound(err, KindUser))
	assert.False(t, IsNotFound(err, KindDataset))
	assert.True(t, IsNotFound(err, ""))
	assert.EqualError(t, err, `user is not registered: username="grumpy"`)

	// Test storeError with a unique index violation - should report a conflict
	err = storeError(gorm.ErrDuplicatedKey, KindBaseURI, "create base URI", `base_uri="s3://b"`)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, KindBaseURI, conflict.Kind)
	assert.EqualError(t, err, `base URI is already registered: base_uri="s3://b"`)

	// Test storeError with any other failure - should keep the cause reachable
	cause := errors.New("disk I/O error")
	err = storeError(cause, KindDataset, "put dataset", `uri="s3://b/1"`)
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "index store failed to put dataset: disk I/O error")
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.EqualError(t, &NotFoundError{Kind: KindDataset}, "dataset is not registered")
	assert.EqualError(t, &DatabaseError{Inner: errors.New("closed")}, "index store: closed")
	assert.EqualError(t, &BadInputError{Reason: "empty username"}, "invalid store input: empty username")
}
