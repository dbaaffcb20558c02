package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// JudgementRepository persists the JUDGE to CONFIRM buffer.
type JudgementRepository struct {
	db *sql.DB
}

// NewJudgementRepository creates a new judgement repository.
func NewJudgementRepository(db *sql.DB) *JudgementRepository {
	return &JudgementRepository{db: db}
}

const judgementColumns = `
	id, event_id, store_id, expiry_hour, batch_id, item_cd,
	remaining_qty, stock_at_judge, stale, judged_at,
	resolved_at, resolution, residual_qty`

// Insert records one judgement row and sets its ID.
func (r *JudgementRepository) Insert(ctx context.Context, tx *sql.Tx, j *models.ExpiryJudgement) error {
	query := `
		INSERT INTO expiry_judgements (
			event_id, store_id, expiry_hour, batch_id, item_cd,
			remaining_qty, stock_at_judge, stale, judged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := pick(r.db, tx).ExecContext(ctx, query,
		j.EventID,
		j.StoreID,
		j.ExpiryHour,
		j.BatchID,
		j.ItemCD,
		j.RemainingQty,
		j.StockAtJudge,
		boolToInt(j.Stale),
		util.FormatDateTime(j.JudgedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting judgement for batch %d: %w", j.BatchID, err)
	}

	j.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading judgement id: %w", err)
	}
	return nil
}

// CountForEvent returns how many judgements an expiry event holds.
func (r *JudgementRepository) CountForEvent(ctx context.Context, tx *sql.Tx, eventID string) (int, error) {
	var n int
	err := pick(r.db, tx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM expiry_judgements WHERE event_id = ?", eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting judgements: %w", err)
	}
	return n, nil
}

// ListPendingForEvent returns an event's unresolved judgements grouped by
// item, each item's batches in FIFO order.
func (r *JudgementRepository) ListPendingForEvent(ctx context.Context, tx *sql.Tx, eventID string) ([]*models.ExpiryJudgement, error) {
	query := `SELECT ` + judgementColumns + `
		FROM expiry_judgements j
		WHERE event_id = ? AND resolved_at IS NULL
		ORDER BY item_cd,
			(SELECT receiving_date FROM inventory_batches b WHERE b.id = j.batch_id),
			batch_id`
	return r.query(ctx, tx, query, eventID)
}

// ListForEvent returns every judgement of an event.
func (r *JudgementRepository) ListForEvent(ctx context.Context, tx *sql.Tx, eventID string) ([]*models.ExpiryJudgement, error) {
	query := `SELECT ` + judgementColumns + `
		FROM expiry_judgements
		WHERE event_id = ?
		ORDER BY item_cd, batch_id`
	return r.query(ctx, tx, query, eventID)
}

// ListPending returns a store's unresolved judgements judged at or before cutoff.
func (r *JudgementRepository) ListPending(ctx context.Context, tx *sql.Tx, storeID string, cutoff time.Time) ([]*models.ExpiryJudgement, error) {
	query := `SELECT ` + judgementColumns + `
		FROM expiry_judgements
		WHERE store_id = ? AND resolved_at IS NULL AND judged_at <= ?
		ORDER BY event_id, item_cd, batch_id`
	return r.query(ctx, tx, query, storeID, util.FormatDateTime(cutoff))
}

// Resolve closes a pending judgement. A nil residual records no correction.
func (r *JudgementRepository) Resolve(ctx context.Context, tx *sql.Tx, id int64, resolution models.Resolution, residual *int, at time.Time) error {
	query := `
		UPDATE expiry_judgements
		SET resolved_at = ?, resolution = ?, residual_qty = ?
		WHERE id = ? AND resolved_at IS NULL`

	var res sql.NullInt64
	if residual != nil {
		res = sql.NullInt64{Int64: int64(*residual), Valid: true}
	}

	if _, err := pick(r.db, tx).ExecContext(ctx, query, util.FormatDateTime(at), string(resolution), res, id); err != nil {
		return fmt.Errorf("resolving judgement %d: %w", id, err)
	}
	return nil
}

func (r *JudgementRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]*models.ExpiryJudgement, error) {
	rows, err := pick(r.db, tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying judgements: %w", err)
	}
	defer rows.Close()

	var out []*models.ExpiryJudgement
	for rows.Next() {
		var j models.ExpiryJudgement
		var stale int
		var judgedStr string
		var resolvedAt, resolution sql.NullString
		var residual sql.NullInt64

		if err := rows.Scan(
			&j.ID, &j.EventID, &j.StoreID, &j.ExpiryHour, &j.BatchID, &j.ItemCD,
			&j.RemainingQty, &j.StockAtJudge, &stale, &judgedStr,
			&resolvedAt, &resolution, &residual,
		); err != nil {
			return nil, fmt.Errorf("scanning judgement: %w", err)
		}

		j.Stale = stale == 1
		j.JudgedAt = parseTime(judgedStr)
		j.ResolvedAt = parseNullTime(resolvedAt)
		if resolution.Valid {
			res := models.Resolution(resolution.String)
			j.Resolution = &res
		}
		if residual.Valid {
			v := int(residual.Int64)
			j.ResidualQty = &v
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}
