package orders

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
)

// DiffService runs Compare against stored snapshots and receiving facts and
// persists the result.
type DiffService struct {
	db        *sql.DB
	snapshots *repository.SnapshotRepository
	facts     *repository.FactRepository
	diffs     *repository.DiffRepository
	opts      CompareOptions
	log       logrus.FieldLogger
}

// NewDiffService creates a diff service configured from cfg.
func NewDiffService(db *sql.DB, cfg *config.DiffConfig, log logrus.FieldLogger) *DiffService {
	return &DiffService{
		db:        db,
		snapshots: repository.NewSnapshotRepository(db),
		facts:     repository.NewFactRepository(db),
		diffs:     repository.NewDiffRepository(db),
		opts: CompareOptions{
			NotComparable:    cfg.NotComparableGroupings,
			ExpectedLeadDays: cfg.ExpectedLeadDays,
		},
		log: log,
	}
}

// Run recomputes a store's diff for an order date. The previous result is
// replaced in the same transaction.
func (s *DiffService) Run(ctx context.Context, storeID, orderDate string) (*DiffResult, error) {
	var result *DiffResult

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		snaps, err := s.snapshots.GetByDate(ctx, tx, storeID, orderDate)
		if err != nil {
			return err
		}
		receiving, err := s.facts.ListReceivingByOrderDate(ctx, tx, storeID, orderDate)
		if err != nil {
			return err
		}

		result = Compare(storeID, orderDate, snaps, receiving, s.opts)
		return s.diffs.ReplaceForDate(ctx, tx, storeID, orderDate, result.Diffs, result.Summary)
	})
	if err != nil {
		return nil, fmt.Errorf("running diff for %s/%s: %w", storeID, orderDate, err)
	}

	sum := result.Summary
	log := s.log.WithFields(logrus.Fields{
		"store_id":       storeID,
		"order_date":     orderDate,
		"unchanged":      sum.UnchangedCount,
		"qty_changed":    sum.QtyChangedCount,
		"added":          sum.AddedCount,
		"removed":        sum.RemovedCount,
		"receiving_diff": sum.ReceivingDiffCount,
		"not_comparable": sum.NotComparableCount,
		"match_rate":     sum.MatchRate,
	})
	if !sum.HasReceivingData {
		log.Warn("no receiving data collected for order date")
	} else {
		log.Info("order diff computed")
	}
	return result, nil
}

// Feedback aggregates per-item removal and addition history over order
// dates in [from, to]. Only dates with receiving data take part.
func (s *DiffService) Feedback(ctx context.Context, storeID, from, to string) ([]*models.ItemFeedback, error) {
	summaries, err := s.diffs.ListSummaries(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}
	days := 0
	for _, sum := range summaries {
		if sum.HasReceivingData {
			days++
		}
	}
	if days == 0 {
		return nil, nil
	}

	diffs, err := s.diffs.ListDiffsWithReceivingData(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}

	byItem := make(map[string]*models.ItemFeedback)
	qtyDiffSum := make(map[string]int)
	for _, d := range diffs {
		fb, ok := byItem[d.ItemCD]
		if !ok {
			fb = &models.ItemFeedback{ItemCD: d.ItemCD, ItemNM: d.ItemNM, MidCD: d.MidCD, Days: days}
			byItem[d.ItemCD] = fb
		}
		switch d.DiffType {
		case models.DiffTypeRemoved:
			fb.RemovedCount++
		case models.DiffTypeAdded:
			fb.AddedCount++
		case models.DiffTypeQtyChanged:
			fb.QtyChangedCount++
			qtyDiffSum[d.ItemCD] += d.QtyDiff
		}
	}

	out := make([]*models.ItemFeedback, 0, len(byItem))
	for item, fb := range byItem {
		fb.RemovalRate = ratio(fb.RemovedCount, days)
		fb.AdditionRate = ratio(fb.AddedCount, days)
		if fb.QtyChangedCount > 0 {
			fb.AvgQtyDiff = decimal.NewFromInt(int64(qtyDiffSum[item])).
				DivRound(decimal.NewFromInt(int64(fb.QtyChangedCount)), 2).
				InexactFloat64()
		}
		out = append(out, fb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCD < out[j].ItemCD })
	return out, nil
}
