// Package orders keeps the automated order record per store and date, and
// compares it with what was confirmed and delivered.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
	"github.com/storeops/storeops/internal/util"
)

// RowError records one rejected row of a bulk write.
type RowError struct {
	Index  int
	ItemCD string
	Err    error
}

// MarshalJSON renders the row error as text.
func (e RowError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index  int    `json:"index"`
		ItemCD string `json:"item_cd"`
		Error  string `json:"error"`
	}{e.Index, e.ItemCD, e.Err.Error()})
}

// BulkResult summarizes a bulk write. Rows fail independently.
type BulkResult struct {
	Written int
	Failed  []RowError
}

// Err joins every row error, or returns nil.
func (r *BulkResult) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("row %d (%s): %w", f.Index, f.ItemCD, f.Err))
	}
	return errors.Join(errs...)
}

// SnapshotStore is the authoritative record of proposed orders.
type SnapshotStore struct {
	snapshots *repository.SnapshotRepository
	validate  *validator.Validate
	clock     util.Clock
	log       logrus.FieldLogger
}

// NewSnapshotStore creates a new snapshot store.
func NewSnapshotStore(db *sql.DB, clock util.Clock, log logrus.FieldLogger) *SnapshotStore {
	return &SnapshotStore{
		snapshots: repository.NewSnapshotRepository(db),
		validate:  validator.New(),
		clock:     clock,
		log:       log,
	}
}

// GetByDate returns a store's snapshot rows for an order date.
func (s *SnapshotStore) GetByDate(ctx context.Context, storeID, orderDate string) ([]*models.OrderSnapshot, error) {
	return s.snapshots.GetByDate(ctx, nil, storeID, orderDate)
}

// BulkUpsert writes every row on its own, so one bad or frozen row never
// fails the rest.
func (s *SnapshotStore) BulkUpsert(ctx context.Context, rows []*models.OrderSnapshot) *BulkResult {
	result := &BulkResult{}

	for i, row := range rows {
		if row.Source == "" {
			row.Source = models.SnapshotSourceLive
		}

		err := s.validate.Struct(row)
		if err == nil {
			err = s.snapshots.Upsert(ctx, nil, row)
		}
		if err != nil {
			result.Failed = append(result.Failed, RowError{Index: i, ItemCD: row.ItemCD, Err: err})
			s.log.WithFields(logrus.Fields{
				"store_id":   row.StoreID,
				"order_date": row.OrderDate,
				"item_cd":    row.ItemCD,
			}).WithError(err).Warn("snapshot row rejected")
			continue
		}
		result.Written++
	}

	return result
}

// MarkExecuted freezes a snapshot once its order was placed.
func (s *SnapshotStore) MarkExecuted(ctx context.Context, storeID, orderDate, itemCD string, success bool) error {
	if err := s.snapshots.MarkExecuted(ctx, nil, storeID, orderDate, itemCD, success, s.clock.Now()); err != nil {
		return fmt.Errorf("marking %s/%s executed: %w", orderDate, itemCD, err)
	}
	return nil
}

// RecordDecisions stores one decision-engine run for a store and date.
func (s *SnapshotStore) RecordDecisions(ctx context.Context, storeID, orderDate string, records []models.DecisionRecord) *BulkResult {
	rows := make([]*models.OrderSnapshot, 0, len(records))
	index := make([]int, 0, len(records))
	result := &BulkResult{}

	for i, rec := range records {
		if err := s.validate.Struct(rec); err != nil {
			result.Failed = append(result.Failed, RowError{Index: i, ItemCD: rec.ItemCD, Err: err})
			continue
		}
		rows = append(rows, rec.ToSnapshot(storeID, orderDate))
		index = append(index, i)
	}

	written := s.BulkUpsert(ctx, rows)
	result.Written = written.Written
	for _, f := range written.Failed {
		f.Index = index[f.Index]
		result.Failed = append(result.Failed, f)
	}

	s.log.WithFields(logrus.Fields{
		"store_id":   storeID,
		"order_date": orderDate,
		"written":    result.Written,
		"failed":     len(result.Failed),
	}).Info("decisions recorded")
	return result
}
