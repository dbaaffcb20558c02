// Package testutil provides utilities for testing.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/storeops/storeops/internal/database"

	_ "modernc.org/sqlite" // SQLite driver
)

// TestDB wraps a test database connection.
type TestDB struct {
	*sql.DB
	path string
}

// NewTestDB creates a new in-memory SQLite database for testing.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Each connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	return &TestDB{DB: db, path: ":memory:"}
}

// NewTestDBWithFile creates a test database backed by a temporary file.
// Useful for debugging tests.
func NewTestDBWithFile(t *testing.T) *TestDB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	return &TestDB{DB: db, path: dbPath}
}

// NewMigratedDB returns an in-memory database with the full schema applied
// and registers its cleanup.
func NewMigratedDB(t *testing.T) *TestDB {
	t.Helper()

	tdb := NewTestDB(t)
	tdb.RunMigrations(t)
	t.Cleanup(func() { tdb.Close(t) })
	return tdb
}

// RunMigrations applies the embedded schema migrations.
func (tdb *TestDB) RunMigrations(t *testing.T) {
	t.Helper()

	log, _ := test.NewNullLogger()
	m, err := database.NewMigrator(tdb.DB, log)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if _, err := m.MigrateUp(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
}

// Close closes the test database and cleans up resources.
func (tdb *TestDB) Close(t *testing.T) {
	t.Helper()

	if err := tdb.DB.Close(); err != nil {
		t.Errorf("failed to close test database: %v", err)
	}
}

// Truncate removes all data from specified tables while maintaining schema.
func (tdb *TestDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()

	ctx := context.Background()

	// foreign_keys cannot change inside a transaction.
	if _, err := tdb.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatalf("failed to disable foreign keys: %v", err)
	}
	defer tdb.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	for _, table := range tables {
		if _, err := tdb.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
}

// AssertRowCount asserts the row count for a table.
func (tdb *TestDB) AssertRowCount(t *testing.T, table string, expected int) {
	t.Helper()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := tdb.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}

	if count != expected {
		t.Errorf("expected %d rows in %s, got %d", expected, table, count)
	}
}

// ExecSQL executes arbitrary SQL (useful for test setup).
func (tdb *TestDB) ExecSQL(t *testing.T, sql string, args ...any) {
	t.Helper()

	if _, err := tdb.Exec(sql, args...); err != nil {
		t.Fatalf("failed to execute SQL: %v\nSQL: %s", err, sql)
	}
}
