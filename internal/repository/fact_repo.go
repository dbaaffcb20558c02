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

// FactRepository stores collector output: daily sales/stock facts and
// receiving facts.
type FactRepository struct {
	db *sql.DB
}

// NewFactRepository creates a new fact repository.
func NewFactRepository(db *sql.DB) *FactRepository {
	return &FactRepository{db: db}
}

// GetDaily retrieves one daily fact.
func (r *FactRepository) GetDaily(ctx context.Context, tx *sql.Tx, storeID, itemCD, salesDate string) (*models.DailyFact, error) {
	query := `
		SELECT store_id, item_cd, item_nm, mid_cd, sales_date, sale_qty, stock_qty, collected_at
		FROM daily_facts
		WHERE store_id = ? AND item_cd = ? AND sales_date = ?`

	f, err := scanDaily(pick(r.db, tx).QueryRowContext(ctx, query, storeID, itemCD, salesDate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("daily fact: %w", ErrNotFound)
	}
	return f, err
}

// UpsertDaily writes a daily fact; a re-collection of the same day replaces
// the earlier figures.
func (r *FactRepository) UpsertDaily(ctx context.Context, tx *sql.Tx, f *models.DailyFact) error {
	query := `
		INSERT INTO daily_facts (
			store_id, item_cd, item_nm, mid_cd, sales_date, sale_qty, stock_qty, collected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, item_cd, sales_date) DO UPDATE SET
			item_nm = excluded.item_nm,
			mid_cd = excluded.mid_cd,
			sale_qty = excluded.sale_qty,
			stock_qty = excluded.stock_qty,
			collected_at = excluded.collected_at`

	if f.CollectedAt.IsZero() {
		f.CollectedAt = time.Now().UTC()
	}

	_, err := pick(r.db, tx).ExecContext(ctx, query,
		f.StoreID, f.ItemCD, f.ItemNM, f.MidCD, f.SalesDate,
		f.SaleQty, f.StockQty, util.FormatDateTime(f.CollectedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting daily fact %s/%s: %w", f.ItemCD, f.SalesDate, err)
	}
	return nil
}

// LatestStock returns the most recently collected stock figure for an item.
// found is false when the item was never collected.
func (r *FactRepository) LatestStock(ctx context.Context, tx *sql.Tx, storeID, itemCD string) (stock int, found bool, err error) {
	query := `
		SELECT stock_qty FROM daily_facts
		WHERE store_id = ? AND item_cd = ?
		ORDER BY sales_date DESC, collected_at DESC
		LIMIT 1`

	err = pick(r.db, tx).QueryRowContext(ctx, query, storeID, itemCD).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying latest stock: %w", err)
	}
	return stock, true, nil
}

// LastCollectedAt returns when any daily fact of the store was last
// collected. found is false when the store has no facts.
func (r *FactRepository) LastCollectedAt(ctx context.Context, tx *sql.Tx, storeID string) (at time.Time, found bool, err error) {
	var s sql.NullString
	err = pick(r.db, tx).QueryRowContext(ctx,
		"SELECT MAX(collected_at) FROM daily_facts WHERE store_id = ?", storeID).Scan(&s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last collection: %w", err)
	}
	if !s.Valid {
		return time.Time{}, false, nil
	}
	return parseTime(s.String), true, nil
}

// ListDaily returns a store's daily facts for one date.
func (r *FactRepository) ListDaily(ctx context.Context, storeID, salesDate string) ([]*models.DailyFact, error) {
	query := `
		SELECT store_id, item_cd, item_nm, mid_cd, sales_date, sale_qty, stock_qty, collected_at
		FROM daily_facts
		WHERE store_id = ? AND sales_date = ?
		ORDER BY item_cd`

	rows, err := r.db.QueryContext(ctx, query, storeID, salesDate)
	if err != nil {
		return nil, fmt.Errorf("querying daily facts: %w", err)
	}
	defer rows.Close()

	var facts []*models.DailyFact
	for rows.Next() {
		f, err := scanDaily(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning daily fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// UpsertReceiving writes a receiving fact keyed by slip and item. It
// reports whether the slip line is new.
func (r *FactRepository) UpsertReceiving(ctx context.Context, tx *sql.Tx, f *models.ReceivingFact) (bool, error) {
	q := pick(r.db, tx)

	var exists int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM receiving_facts WHERE store_id = ? AND slip_id = ? AND item_cd = ?",
		f.StoreID, f.SlipID, f.ItemCD).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking receiving fact: %w", err)
	}

	query := `
		INSERT INTO receiving_facts (
			store_id, slip_id, item_cd, item_nm, mid_cd, order_date, receiving_date,
			order_qty, receiving_qty, delivery_grouping, collected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, slip_id, item_cd) DO UPDATE SET
			item_nm = excluded.item_nm,
			mid_cd = excluded.mid_cd,
			order_date = excluded.order_date,
			receiving_date = excluded.receiving_date,
			order_qty = excluded.order_qty,
			receiving_qty = excluded.receiving_qty,
			delivery_grouping = excluded.delivery_grouping,
			collected_at = excluded.collected_at`

	if f.CollectedAt.IsZero() {
		f.CollectedAt = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx, query,
		f.StoreID, f.SlipID, f.ItemCD, f.ItemNM, f.MidCD, f.OrderDate, f.ReceivingDate,
		f.OrderQty, f.ReceivingQty, f.DeliveryGrouping, util.FormatDateTime(f.CollectedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upserting receiving fact %s/%s: %w", f.SlipID, f.ItemCD, err)
	}
	return exists == 0, nil
}

// ListReceivingByOrderDate returns every receiving fact for an order date.
func (r *FactRepository) ListReceivingByOrderDate(ctx context.Context, tx *sql.Tx, storeID, orderDate string) ([]*models.ReceivingFact, error) {
	query := `
		SELECT store_id, slip_id, item_cd, item_nm, mid_cd, order_date, receiving_date,
			order_qty, receiving_qty, delivery_grouping, collected_at
		FROM receiving_facts
		WHERE store_id = ? AND order_date = ?
		ORDER BY item_cd, slip_id`

	rows, err := pick(r.db, tx).QueryContext(ctx, query, storeID, orderDate)
	if err != nil {
		return nil, fmt.Errorf("querying receiving facts: %w", err)
	}
	defer rows.Close()

	var facts []*models.ReceivingFact
	for rows.Next() {
		var f models.ReceivingFact
		var collectedStr string
		if err := rows.Scan(
			&f.StoreID, &f.SlipID, &f.ItemCD, &f.ItemNM, &f.MidCD, &f.OrderDate, &f.ReceivingDate,
			&f.OrderQty, &f.ReceivingQty, &f.DeliveryGrouping, &collectedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning receiving fact: %w", err)
		}
		f.CollectedAt = parseTime(collectedStr)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

func scanDaily(row rowScanner) (*models.DailyFact, error) {
	var f models.DailyFact
	var collectedStr string
	if err := row.Scan(
		&f.StoreID, &f.ItemCD, &f.ItemNM, &f.MidCD, &f.SalesDate,
		&f.SaleQty, &f.StockQty, &collectedStr,
	); err != nil {
		return nil, err
	}
	f.CollectedAt = parseTime(collectedStr)
	return &f, nil
}
