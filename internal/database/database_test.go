package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/config"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment; with a semicolon
CREATE TABLE a (x TEXT DEFAULT 'semi;colon');
INSERT INTO a VALUES ('it''s'); -- trailing
CREATE INDEX idx_a ON a (x)
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (x TEXT DEFAULT 'semi;colon')", stmts[0])
	assert.Equal(t, "INSERT INTO a VALUES ('it''s')", stmts[1])
	assert.Equal(t, "CREATE INDEX idx_a ON a (x)", stmts[2])
}

func TestParseMigration(t *testing.T) {
	up, down := parseMigration("-- +migrate Up\nCREATE TABLE t (id INTEGER);\n-- +migrate Down\nDROP TABLE t;\n")
	assert.Equal(t, "CREATE TABLE t (id INTEGER);", up)
	assert.Equal(t, "DROP TABLE t;", down)

	up, down = parseMigration("CREATE TABLE t (id INTEGER);")
	assert.Equal(t, "CREATE TABLE t (id INTEGER);", up)
	assert.Empty(t, down)
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("-- +migrate Up\nSELECT 2;")},
		"m/001_first.sql":  {Data: []byte("-- +migrate Up\nSELECT 1;")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Description)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestMigrateUpAndDown(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx := context.Background()

	db, err := Open(filepath.Join(t.TempDir(), "storeops.db"), &config.DatabaseConfig{}, "", log)
	require.NoError(t, err)
	defer db.Close()

	m, err := NewMigrator(db.DB, log)
	require.NoError(t, err)

	result, err := m.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CurrentVersion)
	assert.Equal(t, 2, result.TargetVersion)
	assert.Len(t, result.Applied, 2)

	// Re-running is a no-op.
	result, err = m.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	for _, mig := range status {
		assert.True(t, mig.Applied, "migration %d", mig.Version)
	}

	result, err = m.MigrateDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TargetVersion)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='order_snapshots'").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='inventory_batches'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewInMemoryIsMigrated(t *testing.T) {
	log, _ := test.NewNullLogger()
	db, err := NewInMemory(log)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.HealthCheck(context.Background()))

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCloseIsIdempotent(t *testing.T) {
	log, _ := test.NewNullLogger()
	db, err := NewInMemory(log)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, db.IsClosed())
	assert.ErrorIs(t, db.HealthCheck(context.Background()), ErrClosed)
}

func TestBackupAndRecover(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "storeops.db")
	backupDir := filepath.Join(dir, "backups")

	db, err := Open(dbPath, &config.DatabaseConfig{}, backupDir, log)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE probe (id INTEGER)")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(backupDir, 0750))
	backupPath, err := db.Backup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, backupPath)
	require.NoError(t, db.Close())

	report, err := Recover(ctx, dbPath, backupDir, log)
	require.NoError(t, err)
	assert.Equal(t, RecoveryHealthy, report.Outcome)

	report, err = Recover(ctx, filepath.Join(dir, "missing.db"), backupDir, log)
	require.NoError(t, err)
	assert.Equal(t, RecoveryHealthy, report.Outcome)
}
