// Package database provides SQLite database management for storeops: WAL
// mode, embedded migrations, scheduled backups and crash recovery.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned when a transaction is requested on a closed database.
var ErrClosed = errors.New("database is closed")

// DB wraps a sql.DB with transaction helpers and backup scheduling.
type DB struct {
	*sql.DB
	path      string
	config    *config.DatabaseConfig
	backupDir string
	log       logrus.FieldLogger

	mu     sync.RWMutex
	closed bool

	backupTicker *time.Ticker
	backupDone   chan struct{}
}

// Open creates a new database connection with WAL mode enabled.
// It performs an integrity check and starts the backup scheduler when configured.
func Open(dbPath string, cfg *config.DatabaseConfig, backupDir string, log logrus.FieldLogger) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_timeout=5000&_fk=true", dbPath)

	sqlDB, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer; every write goes through this connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{
		DB:        sqlDB,
		path:      dbPath,
		config:    cfg,
		backupDir: backupDir,
		log:       log.WithField("component", "database"),
	}

	if err := db.initPragmas(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initializing pragmas: %w", err)
	}

	if err := db.CheckIntegrity(context.Background()); err != nil {
		// Recovery is the caller's decision.
		db.log.WithError(err).Warn("database integrity check failed")
	}

	if cfg.BackupIntervalHours > 0 && backupDir != "" {
		db.startBackupScheduler()
	}

	return db, nil
}

func (db *DB) initPragmas() error {
	pragmas := []struct {
		name   string
		pragma string
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL"},
		{"synchronous", "PRAGMA synchronous=NORMAL"},
		{"busy_timeout", "PRAGMA busy_timeout=5000"},
		{"foreign_keys", "PRAGMA foreign_keys=ON"},
		{"cache_size", "PRAGMA cache_size=-16000"},
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p.pragma); err != nil {
			return fmt.Errorf("setting %s: %w", p.name, err)
		}
	}

	return nil
}

// CheckIntegrity performs a database integrity check.
func (db *DB) CheckIntegrity(ctx context.Context) error {
	return integrityCheck(ctx, db.DB)
}

func integrityCheck(ctx context.Context, sqlDB *sql.DB) error {
	rows, err := sqlDB.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating results: %w", err)
	}

	if len(results) == 1 && results[0] == "ok" {
		return nil
	}
	return fmt.Errorf("integrity check failed: %v", results)
}

// Checkpoint forces a WAL checkpoint into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database into the backup directory.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if db.backupDir == "" {
		return "", errors.New("backup directory not configured")
	}

	backupPath := filepath.Join(db.backupDir, fmt.Sprintf("storeops-%s.db", time.Now().Format("20060102-150405")))

	if err := db.Checkpoint(ctx); err != nil {
		db.log.WithError(err).Warn("checkpoint before backup failed")
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}

	db.log.WithField("path", backupPath).Info("database backup created")

	if db.config.BackupRetentionDays > 0 {
		go db.cleanOldBackups()
	}

	return backupPath, nil
}

func (db *DB) cleanOldBackups() {
	cutoff := time.Now().AddDate(0, 0, -db.config.BackupRetentionDays)

	entries, err := os.ReadDir(db.backupDir)
	if err != nil {
		db.log.WithError(err).Warn("reading backup directory")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(db.backupDir, entry.Name())
		if err := os.Remove(path); err != nil {
			db.log.WithError(err).WithField("path", path).Warn("removing old backup")
		}
	}
}

func (db *DB) startBackupScheduler() {
	db.backupTicker = time.NewTicker(time.Duration(db.config.BackupIntervalHours) * time.Hour)
	db.backupDone = make(chan struct{})

	go func() {
		for {
			select {
			case <-db.backupTicker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := db.Backup(ctx); err != nil {
					db.log.WithError(err).Error("scheduled backup failed")
				}
				cancel()
			case <-db.backupDone:
				return
			}
		}
	}()
}

// Close stops the backup scheduler, checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.backupTicker != nil {
		db.backupTicker.Stop()
		close(db.backupDone)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if db.path != ":memory:" {
		if err := db.Checkpoint(ctx); err != nil {
			db.log.WithError(err).Warn("final checkpoint failed")
		}
	}

	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// IsClosed returns true if the database has been closed.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// BeginTx starts a transaction unless the database is closed.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if db.IsClosed() {
		return nil, ErrClosed
	}
	return db.DB.BeginTx(ctx, opts)
}

// WithTransaction executes fn within a transaction.
// The transaction is committed if fn returns nil, otherwise rolled back.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return WithTx(ctx, db.DB, fn)
}

// WithTx runs fn inside a transaction on any *sql.DB.
func WithTx(ctx context.Context, sqlDB *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after error %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// HealthCheck verifies the connection answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	if db.IsClosed() {
		return ErrClosed
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}
	if result != 1 {
		return errors.New("unexpected health check result")
	}
	return nil
}
