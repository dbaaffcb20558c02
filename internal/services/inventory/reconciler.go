package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/repository"
)

// ReconcileAmount returns how much batch quantity must be consumed so the
// batches no longer exceed stock. It never goes negative.
func ReconcileAmount(batchTotal, stock int) int {
	return max(0, batchTotal-stock)
}

// Reconciler corrects batch drift against collected stock for a whole store.
type Reconciler struct {
	db      *sql.DB
	ledger  *Ledger
	batches *repository.BatchRepository
	facts   *repository.FactRepository
	log     logrus.FieldLogger
}

// NewReconciler creates a reconciler over the ledger's database.
func NewReconciler(ledger *Ledger, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		db:      ledger.db,
		ledger:  ledger,
		batches: ledger.batches,
		facts:   repository.NewFactRepository(ledger.db),
		log:     log,
	}
}

// ReconcileStore syncs every item with active batches to its latest
// collected stock. Items never collected are reported and left alone.
func (r *Reconciler) ReconcileStore(ctx context.Context, storeID string) (*ReconcileReport, error) {
	report := &ReconcileReport{StoreID: storeID}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		items, err := r.batches.ActiveItems(ctx, tx, storeID)
		if err != nil {
			return err
		}

		for _, item := range items {
			stock, found, err := r.facts.LatestStock(ctx, tx, storeID, item)
			if err != nil {
				return err
			}
			if !found {
				report.MissingStock = append(report.MissingStock, item)
				continue
			}

			res, err := r.ledger.syncWithStock(ctx, tx, storeID, item, stock)
			if err != nil {
				return fmt.Errorf("reconciling %s: %w", item, err)
			}

			report.Items++
			if res.Consumed > 0 {
				report.CorrectedItems++
				report.CorrectedUnits += res.Consumed
			}
			if res.Anomaly {
				report.Anomalies = append(report.Anomalies, *res)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling store %s: %w", storeID, err)
	}

	log := r.log.WithFields(logrus.Fields{
		"store_id":        storeID,
		"items":           report.Items,
		"corrected_items": report.CorrectedItems,
		"corrected_units": report.CorrectedUnits,
		"anomalies":       len(report.Anomalies),
	})
	if len(report.MissingStock) > 0 {
		log.WithField("missing_stock", len(report.MissingStock)).Warn("reconciled with missing stock data")
	} else {
		log.Info("store reconciled")
	}
	return report, nil
}
