package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// DiffRepository stores order diffs and their per-date summaries.
type DiffRepository struct {
	db *sql.DB
}

// NewDiffRepository creates a new diff repository.
func NewDiffRepository(db *sql.DB) *DiffRepository {
	return &DiffRepository{db: db}
}

// ReplaceForDate swaps a store's diffs and summary for an order date.
// Diff results are derived, so a recomputation overwrites the previous run.
func (r *DiffRepository) ReplaceForDate(ctx context.Context, tx *sql.Tx, storeID, orderDate string, diffs []*models.OrderDiff, summary *models.DiffSummary) error {
	q := pick(r.db, tx)

	if _, err := q.ExecContext(ctx, "DELETE FROM order_diffs WHERE store_id = ? AND order_date = ?", storeID, orderDate); err != nil {
		return fmt.Errorf("clearing diffs: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM order_diff_summaries WHERE store_id = ? AND order_date = ?", storeID, orderDate); err != nil {
		return fmt.Errorf("clearing summary: %w", err)
	}

	now := time.Now().UTC()
	for _, d := range diffs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_diffs (
				store_id, order_date, receiving_date, item_cd, item_nm, mid_cd, diff_type,
				auto_order_qty, confirmed_order_qty, receiving_qty, qty_diff, receiving_diff, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			storeID, orderDate, d.ReceivingDate, d.ItemCD, d.ItemNM, d.MidCD, string(d.DiffType),
			d.AutoOrderQty, d.ConfirmedOrderQty, d.ReceivingQty, d.QtyDiff, d.ReceivingDiff,
			util.FormatDateTime(now),
		)
		if err != nil {
			return fmt.Errorf("inserting diff %s: %w", d.ItemCD, err)
		}
		d.CreatedAt = now
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO order_diff_summaries (
			store_id, order_date, receiving_date,
			unchanged_count, qty_changed_count, added_count, removed_count,
			receiving_diff_count, not_comparable_count,
			total_auto_qty, total_confirmed_qty, total_receiving_qty,
			match_rate, has_receiving_data, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		storeID, orderDate, summary.ReceivingDate,
		summary.UnchangedCount, summary.QtyChangedCount, summary.AddedCount, summary.RemovedCount,
		summary.ReceivingDiffCount, summary.NotComparableCount,
		summary.TotalAutoQty, summary.TotalConfirmedQty, summary.TotalReceivingQty,
		summary.MatchRate, boolToInt(summary.HasReceivingData), util.FormatDateTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	summary.UpdatedAt = now
	return nil
}

// ListDiffs returns a store's diffs for an order date, by item.
func (r *DiffRepository) ListDiffs(ctx context.Context, storeID, orderDate string) ([]*models.OrderDiff, error) {
	query := `
		SELECT store_id, order_date, receiving_date, item_cd, item_nm, mid_cd, diff_type,
			auto_order_qty, confirmed_order_qty, receiving_qty, qty_diff, receiving_diff, created_at
		FROM order_diffs
		WHERE store_id = ? AND order_date = ?
		ORDER BY item_cd`
	return r.queryDiffs(ctx, query, storeID, orderDate)
}

// ListDiffsWithReceivingData returns diffs in [from, to] whose order date
// has collected receiving data. Days without it say nothing about accuracy.
func (r *DiffRepository) ListDiffsWithReceivingData(ctx context.Context, storeID, from, to string) ([]*models.OrderDiff, error) {
	query := `
		SELECT d.store_id, d.order_date, d.receiving_date, d.item_cd, d.item_nm, d.mid_cd, d.diff_type,
			d.auto_order_qty, d.confirmed_order_qty, d.receiving_qty, d.qty_diff, d.receiving_diff, d.created_at
		FROM order_diffs d
		JOIN order_diff_summaries s
			ON s.store_id = d.store_id AND s.order_date = d.order_date
		WHERE d.store_id = ? AND d.order_date BETWEEN ? AND ? AND s.has_receiving_data = 1
		ORDER BY d.item_cd, d.order_date`
	return r.queryDiffs(ctx, query, storeID, from, to)
}

// GetSummary retrieves the summary of a store's order date.
func (r *DiffRepository) GetSummary(ctx context.Context, storeID, orderDate string) (*models.DiffSummary, error) {
	summaries, err := r.listSummaries(ctx, `WHERE store_id = ? AND order_date = ?`, storeID, orderDate)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("diff summary: %w", ErrNotFound)
	}
	return summaries[0], nil
}

// ListSummaries returns a store's summaries for order dates in [from, to].
func (r *DiffRepository) ListSummaries(ctx context.Context, storeID, from, to string) ([]*models.DiffSummary, error) {
	return r.listSummaries(ctx, `WHERE store_id = ? AND order_date BETWEEN ? AND ?`, storeID, from, to)
}

func (r *DiffRepository) listSummaries(ctx context.Context, where string, args ...any) ([]*models.DiffSummary, error) {
	query := `
		SELECT store_id, order_date, receiving_date,
			unchanged_count, qty_changed_count, added_count, removed_count,
			receiving_diff_count, not_comparable_count,
			total_auto_qty, total_confirmed_qty, total_receiving_qty,
			match_rate, has_receiving_data, updated_at
		FROM order_diff_summaries ` + where + `
		ORDER BY order_date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.DiffSummary
	for rows.Next() {
		var s models.DiffSummary
		var hasData int
		var updatedStr string
		if err := rows.Scan(
			&s.StoreID, &s.OrderDate, &s.ReceivingDate,
			&s.UnchangedCount, &s.QtyChangedCount, &s.AddedCount, &s.RemovedCount,
			&s.ReceivingDiffCount, &s.NotComparableCount,
			&s.TotalAutoQty, &s.TotalConfirmedQty, &s.TotalReceivingQty,
			&s.MatchRate, &hasData, &updatedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.HasReceivingData = hasData == 1
		s.UpdatedAt = parseTime(updatedStr)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *DiffRepository) queryDiffs(ctx context.Context, query string, args ...any) ([]*models.OrderDiff, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying diffs: %w", err)
	}
	defer rows.Close()

	var out []*models.OrderDiff
	for rows.Next() {
		var d models.OrderDiff
		var diffType, createdStr string
		if err := rows.Scan(
			&d.StoreID, &d.OrderDate, &d.ReceivingDate, &d.ItemCD, &d.ItemNM, &d.MidCD, &diffType,
			&d.AutoOrderQty, &d.ConfirmedOrderQty, &d.ReceivingQty, &d.QtyDiff, &d.ReceivingDiff, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning diff: %w", err)
		}
		d.DiffType = models.DiffType(diffType)
		d.CreatedAt = parseTime(createdStr)
		out = append(out, &d)
	}
	return out, rows.Err()
}
