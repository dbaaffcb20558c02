// Package repository provides per-entity data access over database/sql.
// Every method that takes a *sql.Tx runs on the database when tx is nil.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/storeops/storeops/internal/util"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBatchTerminal is returned when a write targets a batch that is
	// already consumed or expired.
	ErrBatchTerminal = errors.New("batch is terminal")

	// ErrSnapshotFinalized is returned when a write targets an order
	// snapshot that was already executed.
	ErrSnapshotFinalized = errors.New("order snapshot already executed")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func pick(db *sql.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: util.FormatDateTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := util.ParseDateTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, _ := util.ParseDateTime(s)
	return t
}
