package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
	"github.com/storeops/storeops/internal/util"
)

// Ledger maintains per-store FIFO inventory batches.
type Ledger struct {
	db      *sql.DB
	batches *repository.BatchRepository
	table   *ExpiryTable
	loc     *time.Location
	log     logrus.FieldLogger
}

// NewLedger creates a new batch ledger. Business dates are interpreted in loc.
func NewLedger(db *sql.DB, table *ExpiryTable, loc *time.Location, log logrus.FieldLogger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		db:      db,
		batches: repository.NewBatchRepository(db, loc),
		table:   table,
		loc:     loc,
		log:     log,
	}
}

// ============================================================================
// RECEIPTS
// ============================================================================

// CreateBatch records a receipt. If a batch for the same store, item and
// receiving date exists it is returned unchanged with created false.
func (l *Ledger) CreateBatch(ctx context.Context, input CreateBatchInput) (*models.InventoryBatch, bool, error) {
	var batch *models.InventoryBatch
	var created bool

	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		batch, created, err = l.createBatch(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return batch, created, nil
}

func (l *Ledger) createBatch(ctx context.Context, tx *sql.Tx, input CreateBatchInput) (*models.InventoryBatch, bool, error) {
	days, hour := l.table.Lookup(input.MidCD, input.DeliveryType)
	if input.ExpirationDays > 0 {
		days = input.ExpirationDays
	}
	if input.ExpiryHour != nil {
		hour = *input.ExpiryHour
	}

	receiving := util.DateIn(input.ReceivingDate, l.loc)
	expiryDate := util.AddDays(receiving, days)

	b := &models.InventoryBatch{
		StoreID:        input.StoreID,
		ItemCD:         input.ItemCD,
		ItemNM:         input.ItemNM,
		MidCD:          input.MidCD,
		DeliveryType:   input.DeliveryType,
		ReceivingDate:  receiving,
		ExpirationDays: days,
		ExpiryDate:     expiryDate,
		ExpiryHour:     hour,
		ExpiresAt:      util.AtHour(expiryDate, hour),
		InitialQty:     input.Qty,
		RemainingQty:   input.Qty,
		Status:         models.BatchStatusActive,
	}

	created, err := l.batches.Insert(ctx, tx, b)
	if err != nil {
		return nil, false, fmt.Errorf("creating batch: %w", err)
	}
	if !created {
		existing, err := l.batches.GetByReceipt(ctx, tx, input.StoreID, input.ItemCD, receiving)
		if err != nil {
			return nil, false, fmt.Errorf("loading existing batch: %w", err)
		}
		l.log.WithFields(logrus.Fields{
			"store_id":       input.StoreID,
			"item_cd":        input.ItemCD,
			"receiving_date": util.FormatDate(receiving),
			"batch_id":       existing.ID,
		}).Debug("duplicate receipt ignored")
		return existing, false, nil
	}

	l.log.WithFields(logrus.Fields{
		"store_id":   b.StoreID,
		"item_cd":    b.ItemCD,
		"batch_id":   b.ID,
		"qty":        b.InitialQty,
		"expires_at": b.ExpiresAt.Format(time.RFC3339),
	}).Debug("batch created")
	return b, true, nil
}

// ============================================================================
// CONSUMPTION
// ============================================================================

// ConsumeFIFO deducts qty from an item's active batches, oldest receipt
// first. It returns the quantity actually consumed, which is less than qty
// when the batches run out.
func (l *Ledger) ConsumeFIFO(ctx context.Context, storeID, itemCD string, qty int) (int, error) {
	var consumed int
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		consumed, err = l.consume(ctx, tx, storeID, itemCD, qty)
		return err
	})
	if err != nil {
		return 0, err
	}
	return consumed, nil
}

func (l *Ledger) consume(ctx context.Context, tx *sql.Tx, storeID, itemCD string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}

	batches, err := l.batches.ListActive(ctx, tx, storeID, itemCD)
	if err != nil {
		return 0, fmt.Errorf("listing active batches: %w", err)
	}

	consumed := 0
	for _, b := range batches {
		if consumed == qty {
			break
		}

		take := min(qty-consumed, b.RemainingQty)
		remaining := b.RemainingQty - take
		status := models.BatchStatusActive
		if remaining == 0 {
			status = models.BatchStatusConsumed
		}

		if err := l.batches.UpdateRemaining(ctx, tx, b.ID, remaining, status); err != nil {
			return 0, fmt.Errorf("consuming from batch %d: %w", b.ID, err)
		}
		consumed += take
	}

	if consumed < qty {
		l.log.WithFields(logrus.Fields{
			"store_id":  storeID,
			"item_cd":   itemCD,
			"requested": qty,
			"consumed":  consumed,
		}).Debug("batches exhausted before request was met")
	}
	return consumed, nil
}

// ============================================================================
// RECONCILIATION
// ============================================================================

// SyncWithStock aligns an item's active batches with the authoritative
// stock. Excess batch quantity is consumed FIFO. Stock above the batch
// total is logged as an anomaly and otherwise left alone.
func (l *Ledger) SyncWithStock(ctx context.Context, storeID, itemCD string, stock int) (*SyncResult, error) {
	var result *SyncResult
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		result, err = l.syncWithStock(ctx, tx, storeID, itemCD, stock)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Ledger) syncWithStock(ctx context.Context, tx *sql.Tx, storeID, itemCD string, stock int) (*SyncResult, error) {
	total, err := l.batches.ActiveTotal(ctx, tx, storeID, itemCD)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{ItemCD: itemCD, BatchTotal: total, Stock: stock}

	if amount := ReconcileAmount(total, stock); amount > 0 {
		result.Consumed, err = l.consume(ctx, tx, storeID, itemCD, amount)
		if err != nil {
			return nil, err
		}
	}

	if stock > total {
		result.Anomaly = true
		l.log.WithFields(logrus.Fields{
			"store_id":    storeID,
			"item_cd":     itemCD,
			"batch_total": total,
			"stock":       stock,
			"anomaly":     "stock_exceeds_batches",
		}).Warn("stock exceeds tracked batches")
	}
	return result, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetActive returns an item's active batches, oldest receipt first.
func (l *Ledger) GetActive(ctx context.Context, storeID, itemCD string) ([]*models.InventoryBatch, error) {
	return l.batches.ListActive(ctx, nil, storeID, itemCD)
}

// GetExpiringSoon returns a store's active batches whose expiry date falls
// within daysAhead days of now, soonest first.
func (l *Ledger) GetExpiringSoon(ctx context.Context, storeID string, daysAhead int, now time.Time) ([]*models.InventoryBatch, error) {
	if daysAhead < 0 {
		daysAhead = 0
	}
	cutoff := util.AddDays(util.DateIn(now.In(l.loc), l.loc), daysAhead)
	return l.batches.ListExpiringBy(ctx, nil, storeID, cutoff)
}

// List pages through a store's batches in any status.
func (l *Ledger) List(ctx context.Context, filter models.BatchFilter, page models.Pagination) (*models.BatchList, error) {
	return l.batches.List(ctx, filter, page)
}
