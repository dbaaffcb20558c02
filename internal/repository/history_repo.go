package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// HistoryRepository reads and writes the decision engine's independently
// logged history: evaluation outcomes and order tracking.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// UpsertEvalOutcome records one evaluation, replacing a re-run of the same day.
func (r *HistoryRepository) UpsertEvalOutcome(ctx context.Context, tx *sql.Tx, e *models.EvalOutcome) error {
	query := `
		INSERT INTO eval_outcomes (
			store_id, eval_date, item_cd, item_nm, mid_cd, decision,
			predicted_qty, recommended_qty, current_stock, pending_qty, delivery_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, eval_date, item_cd) DO UPDATE SET
			item_nm = excluded.item_nm,
			mid_cd = excluded.mid_cd,
			decision = excluded.decision,
			predicted_qty = excluded.predicted_qty,
			recommended_qty = excluded.recommended_qty,
			current_stock = excluded.current_stock,
			pending_qty = excluded.pending_qty,
			delivery_type = excluded.delivery_type`

	_, err := pick(r.db, tx).ExecContext(ctx, query,
		e.StoreID, e.EvalDate, e.ItemCD, e.ItemNM, e.MidCD, e.Decision,
		e.PredictedQty, e.RecommendedQty, e.CurrentStock, e.PendingQty, e.DeliveryType,
	)
	if err != nil {
		return fmt.Errorf("upserting eval outcome %s: %w", e.ItemCD, err)
	}
	return nil
}

// InsertTracking records one placed order line.
func (r *HistoryRepository) InsertTracking(ctx context.Context, tx *sql.Tx, e *models.OrderTrackingEntry) error {
	query := `
		INSERT INTO order_tracking (
			store_id, order_date, item_cd, item_nm, mid_cd, order_qty, delivery_type, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = "ordered"
	}

	res, err := pick(r.db, tx).ExecContext(ctx, query,
		e.StoreID, e.OrderDate, e.ItemCD, e.ItemNM, e.MidCD, e.OrderQty, e.DeliveryType, e.Status,
		util.FormatDateTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting tracking entry %s: %w", e.ItemCD, err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading tracking id: %w", err)
	}
	return nil
}

// ListEvalOutcomes returns a store's evaluations for one date, by item.
func (r *HistoryRepository) ListEvalOutcomes(ctx context.Context, tx *sql.Tx, storeID, evalDate string) ([]*models.EvalOutcome, error) {
	query := `
		SELECT store_id, eval_date, item_cd, item_nm, mid_cd, decision,
			predicted_qty, recommended_qty, current_stock, pending_qty, delivery_type
		FROM eval_outcomes
		WHERE store_id = ? AND eval_date = ?
		ORDER BY item_cd`

	rows, err := pick(r.db, tx).QueryContext(ctx, query, storeID, evalDate)
	if err != nil {
		return nil, fmt.Errorf("querying eval outcomes: %w", err)
	}
	defer rows.Close()

	var out []*models.EvalOutcome
	for rows.Next() {
		var e models.EvalOutcome
		if err := rows.Scan(
			&e.StoreID, &e.EvalDate, &e.ItemCD, &e.ItemNM, &e.MidCD, &e.Decision,
			&e.PredictedQty, &e.RecommendedQty, &e.CurrentStock, &e.PendingQty, &e.DeliveryType,
		); err != nil {
			return nil, fmt.Errorf("scanning eval outcome: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListTracking returns a store's tracked order lines for one order date,
// oldest first.
func (r *HistoryRepository) ListTracking(ctx context.Context, tx *sql.Tx, storeID, orderDate string) ([]*models.OrderTrackingEntry, error) {
	query := `
		SELECT id, store_id, order_date, item_cd, item_nm, mid_cd, order_qty, delivery_type, status, created_at
		FROM order_tracking
		WHERE store_id = ? AND order_date = ?
		ORDER BY item_cd, id`

	rows, err := pick(r.db, tx).QueryContext(ctx, query, storeID, orderDate)
	if err != nil {
		return nil, fmt.Errorf("querying order tracking: %w", err)
	}
	defer rows.Close()

	var out []*models.OrderTrackingEntry
	for rows.Next() {
		var e models.OrderTrackingEntry
		var createdStr string
		if err := rows.Scan(
			&e.ID, &e.StoreID, &e.OrderDate, &e.ItemCD, &e.ItemNM, &e.MidCD,
			&e.OrderQty, &e.DeliveryType, &e.Status, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning tracking entry: %w", err)
		}
		e.CreatedAt = parseTime(createdStr)
		out = append(out, &e)
	}
	return out, rows.Err()
}
