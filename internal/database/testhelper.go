package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"
)

// NewInMemory creates a migrated in-memory database. It enables foreign keys
// but skips WAL mode and the backup scheduler.
func NewInMemory(log logrus.FieldLogger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	migrator, err := NewMigrator(sqlDB, log)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if _, err := migrator.MigrateUp(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{
		DB:     sqlDB,
		path:   ":memory:",
		config: &config.DatabaseConfig{},
		log:    log.WithField("component", "database"),
	}, nil
}
