package orm

import (
	"dataset-registry/config"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the Permission Store and Authoritative Dataset Index.
type DB struct {
	dbGorm *gorm.DB
}

// New wraps an open gorm connection. The schema is not migrated.
func New(dbGorm *gorm.DB) *DB {
	return &DB{dbGorm: dbGorm}
}

// Dialector selects the gorm driver for the configured database type.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, string, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf(
			"host='%s' port='%d' user='%s' password='%s' dbname='%s' sslmode='%s'",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)

		return postgres.Open(dsn), redact(dsn, cfg.Password), nil

	case "mysql", "mariadb":
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)

		return mysql.Open(dsn), redact(dsn, cfg.Password), nil

	case "sqlite":
		// Database is the file path
		return sqlite.Open(cfg.Database), cfg.Database, nil

	case "sqlserver", "mssql":
		dsn := fmt.Sprintf(
			"sqlserver://%s:%s@%s:%d?database=%s",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)

		return sqlserver.Open(dsn), redact(dsn, cfg.Password), nil

	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// InitDB connects to the configured database and migrates the schema.
func InitDB(cfg config.DatabaseConfig) (*DB, error) {
	dialector, dsnRedacted, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("type", cfg.Type).
		Msgf("Connecting to database using the following information: %s", dsnRedacted)

	dbGorm, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	log.Debug().Msg("Successfully connected to the database")

	db := New(dbGorm)
	if err := db.Migrate(); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table of the store.
func (db *DB) Migrate() error {
	err := db.dbGorm.AutoMigrate(
		&User{},
		&BaseURI{},
		&SearchPermission{},
		&RegisterPermission{},
		&Dataset{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// UseTransaction returns a DB bound to tx.
func (db *DB) UseTransaction(tx *gorm.DB) *DB {
	return &DB{dbGorm: tx}
}

// Gorm exposes the underlying connection, e.g. for backends sharing it.
func (db *DB) Gorm() *gorm.DB {
	return db.dbGorm
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.dbGorm.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	return sqlDB.Close()
}

func redact(dsn, password string) string {
	if password == "" {
		return dsn
	}

	return strings.ReplaceAll(dsn, password, "*****")
}
