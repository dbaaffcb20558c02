package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
	"github.com/storeops/storeops/internal/util"
)

// BackfillResult describes one reconstructed order date.
type BackfillResult struct {
	OrderDate string

	// Skipped is set when live snapshots exist and force was not given.
	Skipped bool
	Written int
	Dropped int // zero-quantity rows
	Frozen  int // executed rows left untouched
	Diff    *DiffResult
}

// DateError records a failed date of a range backfill.
type DateError struct {
	OrderDate string
	Err       error
}

// MarshalJSON renders the date error as text.
func (e DateError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OrderDate string `json:"order_date"`
		Error     string `json:"error"`
	}{e.OrderDate, e.Err.Error()})
}

// RangeResult summarizes a range backfill. Dates fail independently.
type RangeResult struct {
	Results []*BackfillResult
	Failed  []DateError
}

// Backfiller reconstructs snapshots for dates whose live capture was missed
// and reruns the diff for them.
type Backfiller struct {
	db        *sql.DB
	snapshots *repository.SnapshotRepository
	history   *repository.HistoryRepository
	diff      *DiffService
	log       logrus.FieldLogger
}

// NewBackfiller creates a backfiller that diffs through svc.
func NewBackfiller(db *sql.DB, svc *DiffService, log logrus.FieldLogger) *Backfiller {
	return &Backfiller{
		db:        db,
		snapshots: repository.NewSnapshotRepository(db),
		history:   repository.NewHistoryRepository(db),
		diff:      svc,
		log:       log,
	}
}

// Backfill rebuilds one order date from order tracking, enriched by the
// evaluation log. Quantities come from tracking; rows that end at zero are
// dropped. Dates with live snapshots are skipped unless force is set.
func (b *Backfiller) Backfill(ctx context.Context, storeID, orderDate string, force bool) (*BackfillResult, error) {
	result := &BackfillResult{OrderDate: orderDate}
	log := b.log.WithFields(logrus.Fields{
		"store_id":   storeID,
		"order_date": orderDate,
	})

	err := database.WithTx(ctx, b.db, func(tx *sql.Tx) error {
		live, err := b.snapshots.CountBySource(ctx, tx, storeID, orderDate, models.SnapshotSourceLive)
		if err != nil {
			return err
		}
		if live > 0 && !force {
			result.Skipped = true
			return nil
		}

		rows, dropped, err := b.reconstruct(ctx, tx, storeID, orderDate)
		if err != nil {
			return err
		}
		result.Dropped = dropped

		if _, err := b.snapshots.DeleteUnexecuted(ctx, tx, storeID, orderDate, models.SnapshotSourceBackfill); err != nil {
			return err
		}
		for _, row := range rows {
			err := b.snapshots.Upsert(ctx, tx, row)
			switch {
			case errors.Is(err, repository.ErrSnapshotFinalized):
				result.Frozen++
			case err != nil:
				return err
			default:
				result.Written++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfilling %s/%s: %w", storeID, orderDate, err)
	}

	if result.Skipped {
		log.WithField("reason", "live_snapshots_present").Info("backfill skipped")
		return result, nil
	}

	result.Diff, err = b.diff.Run(ctx, storeID, orderDate)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"written": result.Written,
		"dropped": result.Dropped,
		"frozen":  result.Frozen,
	}).Info("backfill complete")
	return result, nil
}

func (b *Backfiller) reconstruct(ctx context.Context, tx *sql.Tx, storeID, orderDate string) ([]*models.OrderSnapshot, int, error) {
	tracking, err := b.history.ListTracking(ctx, tx, storeID, orderDate)
	if err != nil {
		return nil, 0, err
	}
	evals, err := b.history.ListEvalOutcomes(ctx, tx, storeID, orderDate)
	if err != nil {
		return nil, 0, err
	}
	evalByItem := make(map[string]*models.EvalOutcome, len(evals))
	for _, e := range evals {
		evalByItem[e.ItemCD] = e
	}

	byItem := make(map[string]*models.OrderSnapshot)
	for _, t := range tracking {
		s, ok := byItem[t.ItemCD]
		if !ok {
			s = &models.OrderSnapshot{
				StoreID:      storeID,
				OrderDate:    orderDate,
				ItemCD:       t.ItemCD,
				ItemNM:       t.ItemNM,
				MidCD:        t.MidCD,
				DeliveryType: t.DeliveryType,
				Source:       models.SnapshotSourceBackfill,
			}
			byItem[t.ItemCD] = s
		}
		s.FinalOrderQty += t.OrderQty
	}

	rows := make([]*models.OrderSnapshot, 0, len(byItem))
	dropped := 0
	for item, s := range byItem {
		if s.FinalOrderQty <= 0 {
			dropped++
			continue
		}
		if e, ok := evalByItem[item]; ok {
			s.PredictedQty = e.PredictedQty
			s.RecommendedQty = e.RecommendedQty
			s.CurrentStock = e.CurrentStock
			s.PendingQty = e.PendingQty
			s.EvalDecision = e.Decision
			if s.ItemNM == "" {
				s.ItemNM = e.ItemNM
			}
			if s.MidCD == "" {
				s.MidCD = e.MidCD
			}
			if s.DeliveryType == "" {
				s.DeliveryType = e.DeliveryType
			}
		} else {
			s.RecommendedQty = s.FinalOrderQty
		}
		rows = append(rows, s)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ItemCD < rows[j].ItemCD })
	return rows, dropped, nil
}

// BackfillRange backfills every date in [from, to]. A failed date is
// recorded and the rest continue.
func (b *Backfiller) BackfillRange(ctx context.Context, storeID string, from, to time.Time, force bool) (*RangeResult, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("backfill range: %s is after %s", util.FormatDate(from), util.FormatDate(to))
	}

	result := &RangeResult{}
	for _, day := range util.DateRange(from, to) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		date := util.FormatDate(day)
		res, err := b.Backfill(ctx, storeID, date, force)
		if err != nil {
			b.log.WithFields(logrus.Fields{
				"store_id":   storeID,
				"order_date": date,
			}).WithError(err).Warn("backfill failed for date")
			result.Failed = append(result.Failed, DateError{OrderDate: date, Err: err})
			continue
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}
