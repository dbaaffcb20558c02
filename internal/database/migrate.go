package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS exposes the embedded schema for tests in other packages.
func MigrationsFS() fs.FS {
	sub, _ := fs.Sub(migrationsFS, "migrations")
	return sub
}

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
	Applied     bool
	AppliedAt   time.Time
}

// MigrationResult contains the result of running migrations.
type MigrationResult struct {
	Applied        []Migration
	CurrentVersion int
	TargetVersion  int
}

// Migrator handles database schema migrations.
type Migrator struct {
	db         *sql.DB
	log        logrus.FieldLogger
	migrations []Migration
}

var migrationName = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// NewMigrator loads the embedded migrations and ensures the bookkeeping table.
func NewMigrator(db *sql.DB, log logrus.FieldLogger) (*Migrator, error) {
	m := &Migrator{db: db, log: log.WithField("component", "migrator")}

	migrations, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	m.migrations = migrations

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	return m, nil
}

// LoadMigrations reads NNN_description.sql files from dir in fsys, sorted by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationName.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		upSQL, downSQL := parseMigration(string(content))
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(matches[2], "_", " "),
			UpSQL:       upSQL,
			DownSQL:     downSQL,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigration extracts UP and DOWN SQL from migration content.
// Format:
//
//	-- +migrate Up
//	SQL statements...
//	-- +migrate Down
//	SQL statements...
func parseMigration(content string) (upSQL, downSQL string) {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"

	upIdx := strings.Index(content, upMarker)
	downIdx := strings.Index(content, downMarker)

	switch {
	case upIdx == -1:
		return strings.TrimSpace(content), ""
	case downIdx == -1:
		return strings.TrimSpace(content[upIdx+len(upMarker):]), ""
	case upIdx < downIdx:
		return strings.TrimSpace(content[upIdx+len(upMarker) : downIdx]),
			strings.TrimSpace(content[downIdx+len(downMarker):])
	default:
		return strings.TrimSpace(content[upIdx+len(upMarker):]),
			strings.TrimSpace(content[downIdx+len(downMarker) : upIdx])
	}
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("querying current version: %w", err)
	}
	return version, nil
}

// MigrateUp runs all pending migrations.
func (m *Migrator) MigrateUp(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}

		m.log.WithFields(logrus.Fields{
			"version":     mig.Version,
			"description": mig.Description,
		}).Info("applying migration")

		if err := m.exec(ctx, mig.UpSQL, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
				mig.Version, mig.Description)
			return err
		}); err != nil {
			return result, fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}

		mig.Applied = true
		mig.AppliedAt = time.Now()
		result.Applied = append(result.Applied, mig)
		result.TargetVersion = mig.Version
	}

	return result, nil
}

// MigrateDown rolls back the last applied migration.
func (m *Migrator) MigrateDown(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{CurrentVersion: current}
	if current == 0 {
		return result, errors.New("no migrations to roll back")
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == current {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil {
		return result, fmt.Errorf("migration %d not found", current)
	}
	if mig.DownSQL == "" {
		return result, fmt.Errorf("migration %d has no rollback SQL", current)
	}

	m.log.WithField("version", mig.Version).Info("rolling back migration")

	if err := m.exec(ctx, mig.DownSQL, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		return err
	}); err != nil {
		return result, fmt.Errorf("rollback %d failed: %w", mig.Version, err)
	}

	result.TargetVersion = current - 1
	return result, nil
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		t, _ := time.Parse("2006-01-02 15:04:05", appliedAt)
		applied[version] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	result := make([]Migration, len(m.migrations))
	for i, mig := range m.migrations {
		result[i] = mig
		if t, ok := applied[mig.Version]; ok {
			result[i].Applied = true
			result[i].AppliedAt = t
		}
	}
	return result, nil
}

// exec runs every statement of script plus record inside one transaction.
func (m *Migrator) exec(ctx context.Context, script string, record func(tx *sql.Tx) error) error {
	return WithTx(ctx, m.db, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(script) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing statement: %w\nSQL: %s", err, stmt)
			}
		}
		if err := record(tx); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// splitStatements splits SQL content into individual statements, ignoring
// semicolons inside quoted strings and "--" line comments.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	inComment := false
	stringChar := rune(0)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
				current.WriteRune(ch)
			}
		case inString:
			current.WriteRune(ch)
			if ch == stringChar {
				inString = false
			}
		case ch == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case ch == '\'' || ch == '"':
			inString = true
			stringChar = ch
			current.WriteRune(ch)
		case ch == ';':
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()

	return statements
}
