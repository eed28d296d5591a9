package orm

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a migrated store backed by a fresh SQLite file.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	dbGorm, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "index.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true},
	)
	require.NoError(t, err)

	db := New(dbGorm)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}
