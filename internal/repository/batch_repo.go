package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// BatchRepository handles inventory batch data access.
type BatchRepository struct {
	db  *sql.DB
	loc *time.Location
}

// NewBatchRepository creates a new batch repository. Business dates are
// read back as midnight in loc.
func NewBatchRepository(db *sql.DB, loc *time.Location) *BatchRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &BatchRepository{db: db, loc: loc}
}

const batchColumns = `
	id, store_id, item_cd, item_nm, mid_cd, delivery_type,
	receiving_date, expiration_days, expiry_date, expiry_hour, expires_at,
	initial_qty, remaining_qty, status, created_at, updated_at`

// Insert creates b unless a batch for the same store, item and receiving
// date exists. It reports whether a row was written; on conflict b is left
// untouched.
func (r *BatchRepository) Insert(ctx context.Context, tx *sql.Tx, b *models.InventoryBatch) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO inventory_batches (
			store_id, item_cd, item_nm, mid_cd, delivery_type,
			receiving_date, expiration_days, expiry_date, expiry_hour, expires_at,
			initial_qty, remaining_qty, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, item_cd, receiving_date) DO NOTHING`

	now := time.Now().UTC()
	res, err := pick(r.db, tx).ExecContext(ctx, query,
		b.StoreID,
		b.ItemCD,
		b.ItemNM,
		b.MidCD,
		b.DeliveryType,
		util.FormatDate(b.ReceivingDate),
		b.ExpirationDays,
		util.FormatDate(b.ExpiryDate),
		b.ExpiryHour,
		util.FormatDateTime(b.ExpiresAt),
		b.InitialQty,
		b.RemainingQty,
		string(b.Status),
		util.FormatDateTime(now),
		util.FormatDateTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("inserting batch: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("reading batch id: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return true, nil
}

// GetByID retrieves a batch by ID.
func (r *BatchRepository) GetByID(ctx context.Context, tx *sql.Tx, id int64) (*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM inventory_batches WHERE id = ?`
	return r.scanBatch(pick(r.db, tx).QueryRowContext(ctx, query, id))
}

// GetByReceipt retrieves the batch for a store, item and receiving date.
func (r *BatchRepository) GetByReceipt(ctx context.Context, tx *sql.Tx, storeID, itemCD string, receivingDate time.Time) (*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE store_id = ? AND item_cd = ? AND receiving_date = ?`
	return r.scanBatch(pick(r.db, tx).QueryRowContext(ctx, query, storeID, itemCD, util.FormatDate(receivingDate)))
}

// ListActive returns an item's active batches in FIFO order.
func (r *BatchRepository) ListActive(ctx context.Context, tx *sql.Tx, storeID, itemCD string) ([]*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE store_id = ? AND item_cd = ? AND status = 'active'
		ORDER BY receiving_date, id`
	return r.queryBatches(ctx, tx, query, storeID, itemCD)
}

// ListExpiringBy returns active batches whose expiry date is on or before
// the given date, oldest expiry first.
func (r *BatchRepository) ListExpiringBy(ctx context.Context, tx *sql.Tx, storeID string, date time.Time) ([]*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE store_id = ? AND status = 'active' AND expiry_date <= ?
		ORDER BY expiry_date, expiry_hour, item_cd, receiving_date, id`
	return r.queryBatches(ctx, tx, query, storeID, util.FormatDate(date))
}

// ListDueAt returns active batches with the given expiry hour whose expiry
// instant is at or before at.
func (r *BatchRepository) ListDueAt(ctx context.Context, tx *sql.Tx, storeID string, hour int, at time.Time) ([]*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE store_id = ? AND status = 'active' AND expiry_hour = ? AND expires_at <= ?
		ORDER BY item_cd, receiving_date, id`
	return r.queryBatches(ctx, tx, query, storeID, hour, util.FormatDateTime(at))
}

// ListExpiredAt returns every active batch whose expiry instant is at or
// before at, regardless of hour.
func (r *BatchRepository) ListExpiredAt(ctx context.Context, tx *sql.Tx, storeID string, at time.Time) ([]*models.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE store_id = ? AND status = 'active' AND expires_at <= ?
		ORDER BY item_cd, receiving_date, id`
	return r.queryBatches(ctx, tx, query, storeID, util.FormatDateTime(at))
}

// ActiveItems returns the items that have at least one active batch.
func (r *BatchRepository) ActiveItems(ctx context.Context, tx *sql.Tx, storeID string) ([]string, error) {
	query := `
		SELECT DISTINCT item_cd FROM inventory_batches
		WHERE store_id = ? AND status = 'active'
		ORDER BY item_cd`

	rows, err := pick(r.db, tx).QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("querying active items: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ActiveTotal returns the summed remaining quantity of an item's active batches.
func (r *BatchRepository) ActiveTotal(ctx context.Context, tx *sql.Tx, storeID, itemCD string) (int, error) {
	query := `
		SELECT COALESCE(SUM(remaining_qty), 0) FROM inventory_batches
		WHERE store_id = ? AND item_cd = ? AND status = 'active'`

	var total int
	if err := pick(r.db, tx).QueryRowContext(ctx, query, storeID, itemCD).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing active batches: %w", err)
	}
	return total, nil
}

// UpdateRemaining writes a new remaining quantity and status to an active
// batch. It returns ErrBatchTerminal if the batch already left active.
func (r *BatchRepository) UpdateRemaining(ctx context.Context, tx *sql.Tx, id int64, remaining int, status models.BatchStatus) error {
	if remaining == 0 && !status.IsTerminal() {
		return fmt.Errorf("%w: batch %d cannot stay active at zero", models.ErrInvalidBatch, id)
	}

	query := `
		UPDATE inventory_batches
		SET remaining_qty = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`

	res, err := pick(r.db, tx).ExecContext(ctx, query, remaining, string(status), util.FormatDateTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating batch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrBatchTerminal)
	}
	return nil
}

// List retrieves batches with filtering and pagination.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter, page models.Pagination) (*models.BatchList, error) {
	var conditions []string
	var args []any

	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.ItemCD != "" {
		conditions = append(conditions, "item_cd = ?")
		args = append(args, filter.ItemCD)
	}
	if filter.MidCD != "" {
		conditions = append(conditions, "mid_cd = ?")
		args = append(args, filter.MidCD)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM inventory_batches " + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting batches: %w", err)
	}

	query := `SELECT ` + batchColumns + ` FROM inventory_batches ` + whereClause + `
		ORDER BY store_id, item_cd, receiving_date, id
		LIMIT ? OFFSET ?`
	args = append(args, page.Limit(), page.Offset())

	batches, err := r.queryBatches(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}

	return &models.BatchList{
		Batches:    batches,
		Total:      total,
		Page:       page.Normalize().Page,
		TotalPages: page.TotalPages(total),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *BatchRepository) queryBatches(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]*models.InventoryBatch, error) {
	rows, err := pick(r.db, tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.InventoryBatch
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *BatchRepository) scanBatch(row *sql.Row) (*models.InventoryBatch, error) {
	b, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch: %w", ErrNotFound)
	}
	return b, err
}

func (r *BatchRepository) scan(row rowScanner) (*models.InventoryBatch, error) {
	var b models.InventoryBatch
	var status, receivingStr, expiryStr, expiresStr, createdStr, updatedStr string

	err := row.Scan(
		&b.ID, &b.StoreID, &b.ItemCD, &b.ItemNM, &b.MidCD, &b.DeliveryType,
		&receivingStr, &b.ExpirationDays, &expiryStr, &b.ExpiryHour, &expiresStr,
		&b.InitialQty, &b.RemainingQty, &status, &createdStr, &updatedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning batch: %w", err)
	}

	b.Status = models.BatchStatus(status)
	b.ReceivingDate, _ = util.ParseDateIn(receivingStr, r.loc)
	b.ExpiryDate, _ = util.ParseDateIn(expiryStr, r.loc)
	b.ExpiresAt = parseTime(expiresStr).In(r.loc)
	b.CreatedAt = parseTime(createdStr)
	b.UpdatedAt = parseTime(updatedStr)

	return &b, nil
}
