package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// SnapshotRepository handles order snapshot data access.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `
	store_id, order_date, item_cd, item_nm, mid_cd,
	predicted_qty, recommended_qty, final_order_qty, current_stock, pending_qty,
	eval_decision, delivery_type, confidence, order_unit_qty, order_success,
	source, executed_at, created_at, updated_at`

// Upsert writes s, replacing an earlier unexecuted row for the same store,
// order date and item. Executed rows are left alone and ErrSnapshotFinalized
// is returned.
func (r *SnapshotRepository) Upsert(ctx context.Context, tx *sql.Tx, s *models.OrderSnapshot) error {
	query := `
		INSERT INTO order_snapshots (
			store_id, order_date, item_cd, item_nm, mid_cd,
			predicted_qty, recommended_qty, final_order_qty, current_stock, pending_qty,
			eval_decision, delivery_type, confidence, order_unit_qty,
			source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, order_date, item_cd) DO UPDATE SET
			item_nm = excluded.item_nm,
			mid_cd = excluded.mid_cd,
			predicted_qty = excluded.predicted_qty,
			recommended_qty = excluded.recommended_qty,
			final_order_qty = excluded.final_order_qty,
			current_stock = excluded.current_stock,
			pending_qty = excluded.pending_qty,
			eval_decision = excluded.eval_decision,
			delivery_type = excluded.delivery_type,
			confidence = excluded.confidence,
			order_unit_qty = excluded.order_unit_qty,
			source = excluded.source,
			updated_at = excluded.updated_at
		WHERE order_snapshots.executed_at IS NULL`

	now := time.Now().UTC()

	var confidence sql.NullFloat64
	if s.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *s.Confidence, Valid: true}
	}
	var unit sql.NullInt64
	if s.OrderUnitQty != nil {
		unit = sql.NullInt64{Int64: int64(*s.OrderUnitQty), Valid: true}
	}
	source := s.Source
	if source == "" {
		source = models.SnapshotSourceLive
	}

	res, err := pick(r.db, tx).ExecContext(ctx, query,
		s.StoreID, s.OrderDate, s.ItemCD, s.ItemNM, s.MidCD,
		s.PredictedQty, s.RecommendedQty, s.FinalOrderQty, s.CurrentStock, s.PendingQty,
		s.EvalDecision, s.DeliveryType, confidence, unit,
		string(source), util.FormatDateTime(now), util.FormatDateTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot %s/%s: %w", s.OrderDate, s.ItemCD, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s/%s: %w", s.OrderDate, s.ItemCD, ErrSnapshotFinalized)
	}

	s.Source = source
	s.UpdatedAt = now
	return nil
}

// Get retrieves one snapshot row.
func (r *SnapshotRepository) Get(ctx context.Context, tx *sql.Tx, storeID, orderDate, itemCD string) (*models.OrderSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM order_snapshots
		WHERE store_id = ? AND order_date = ? AND item_cd = ?`

	s, err := scanSnapshot(pick(r.db, tx).QueryRowContext(ctx, query, storeID, orderDate, itemCD))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	return s, err
}

// GetByDate returns every snapshot row of a store's order date, by item.
func (r *SnapshotRepository) GetByDate(ctx context.Context, tx *sql.Tx, storeID, orderDate string) ([]*models.OrderSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM order_snapshots
		WHERE store_id = ? AND order_date = ?
		ORDER BY item_cd`

	rows, err := pick(r.db, tx).QueryContext(ctx, query, storeID, orderDate)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.OrderSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountBySource counts a date's snapshot rows with the given provenance.
func (r *SnapshotRepository) CountBySource(ctx context.Context, tx *sql.Tx, storeID, orderDate string, source models.SnapshotSource) (int, error) {
	var n int
	err := pick(r.db, tx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM order_snapshots WHERE store_id = ? AND order_date = ? AND source = ?",
		storeID, orderDate, string(source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

// DeleteUnexecuted removes a date's unexecuted rows of the given provenance.
func (r *SnapshotRepository) DeleteUnexecuted(ctx context.Context, tx *sql.Tx, storeID, orderDate string, source models.SnapshotSource) (int64, error) {
	res, err := pick(r.db, tx).ExecContext(ctx,
		"DELETE FROM order_snapshots WHERE store_id = ? AND order_date = ? AND source = ? AND executed_at IS NULL",
		storeID, orderDate, string(source))
	if err != nil {
		return 0, fmt.Errorf("deleting snapshots: %w", err)
	}
	return res.RowsAffected()
}

// MarkExecuted freezes a snapshot row and records whether the order went
// through. An already executed row yields ErrSnapshotFinalized.
func (r *SnapshotRepository) MarkExecuted(ctx context.Context, tx *sql.Tx, storeID, orderDate, itemCD string, success bool, at time.Time) error {
	q := pick(r.db, tx)

	res, err := q.ExecContext(ctx, `
		UPDATE order_snapshots
		SET executed_at = ?, order_success = ?, updated_at = ?
		WHERE store_id = ? AND order_date = ? AND item_cd = ? AND executed_at IS NULL`,
		util.FormatDateTime(at), boolToInt(success), util.FormatDateTime(at),
		storeID, orderDate, itemCD)
	if err != nil {
		return fmt.Errorf("marking snapshot executed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := r.Get(ctx, tx, storeID, orderDate, itemCD); err != nil {
		return err
	}
	return fmt.Errorf("snapshot %s/%s: %w", orderDate, itemCD, ErrSnapshotFinalized)
}

func scanSnapshot(row rowScanner) (*models.OrderSnapshot, error) {
	var s models.OrderSnapshot
	var confidence sql.NullFloat64
	var unit, success sql.NullInt64
	var source, createdStr, updatedStr string
	var executed sql.NullString

	if err := row.Scan(
		&s.StoreID, &s.OrderDate, &s.ItemCD, &s.ItemNM, &s.MidCD,
		&s.PredictedQty, &s.RecommendedQty, &s.FinalOrderQty, &s.CurrentStock, &s.PendingQty,
		&s.EvalDecision, &s.DeliveryType, &confidence, &unit, &success,
		&source, &executed, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	if confidence.Valid {
		s.Confidence = &confidence.Float64
	}
	if unit.Valid {
		v := int(unit.Int64)
		s.OrderUnitQty = &v
	}
	if success.Valid {
		v := success.Int64 == 1
		s.OrderSuccess = &v
	}
	s.Source = models.SnapshotSource(source)
	s.ExecutedAt = parseNullTime(executed)
	s.CreatedAt = parseTime(createdStr)
	s.UpdatedAt = parseTime(updatedStr)

	return &s, nil
}
