package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/repository"
	"github.com/storeops/storeops/internal/util"
)

// ProtocolOptions tunes the expiry protocol.
type ProtocolOptions struct {
	// Window is the offset of PRE_COLLECT before and CONFIRM after the
	// nominal expiry instant. Data collected earlier than two windows
	// before the event marks its judgements stale.
	Window time.Duration

	// SweepGrace holds the time-based sweep back so CONFIRM gets the
	// first chance at each batch.
	SweepGrace time.Duration
}

// ExpiryProtocol runs the three-phase expiry confirmation for hourly
// expiry events: PRE_COLLECT, JUDGE and CONFIRM.
type ExpiryProtocol struct {
	db         *sql.DB
	batches    *repository.BatchRepository
	judgements *repository.JudgementRepository
	facts      *repository.FactRepository
	collector  Collector
	clock      util.Clock
	loc        *time.Location
	opts       ProtocolOptions
	log        logrus.FieldLogger
}

// NewExpiryProtocol creates the protocol over the ledger's database. A nil
// collector runs every phase on stored data.
func NewExpiryProtocol(ledger *Ledger, collector Collector, clock util.Clock, opts ProtocolOptions, log logrus.FieldLogger) *ExpiryProtocol {
	return &ExpiryProtocol{
		db:         ledger.db,
		batches:    ledger.batches,
		judgements: repository.NewJudgementRepository(ledger.db),
		facts:      repository.NewFactRepository(ledger.db),
		collector:  collector,
		clock:      clock,
		loc:        ledger.loc,
		opts:       opts,
		log:        log,
	}
}

// EventTime returns the nominal expiry instant of an event.
func (p *ExpiryProtocol) EventTime(date time.Time, hour int) time.Time {
	return util.AtHour(util.DateIn(date, p.loc), hour)
}

// PreCollect refreshes the store's facts shortly before an expiry event.
// A failed collection degrades the event; it is never an error.
func (p *ExpiryProtocol) PreCollect(ctx context.Context, storeID string, date time.Time, hour int) *PhaseResult {
	result := &PhaseResult{
		EventID: util.ExpiryEventID(storeID, date, hour),
		RunID:   util.NewRunID(),
	}
	log := p.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"event_id": result.EventID,
		"run_id":   result.RunID,
		"phase":    "pre_collect",
	})

	result.Degraded = !p.collect(ctx, storeID, log)
	if !result.Degraded {
		log.Info("pre-collection complete")
	}
	return result
}

// Judge snapshots every active batch due at the event together with its
// item's current stock. Batch statuses are left unchanged. Judging an event
// twice returns ErrAlreadyJudged and writes nothing.
func (p *ExpiryProtocol) Judge(ctx context.Context, storeID string, date time.Time, hour int) (*JudgeResult, error) {
	eventID := util.ExpiryEventID(storeID, date, hour)
	eventTime := p.EventTime(date, hour)
	result := &JudgeResult{EventID: eventID}
	log := p.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"event_id": eventID,
		"phase":    "judge",
	})

	err := database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		n, err := p.judgements.CountForEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyJudged
		}

		due, err := p.batches.ListDueAt(ctx, tx, storeID, hour, eventTime)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		result.Stale, err = p.isStale(ctx, tx, storeID, eventTime)
		if err != nil {
			return err
		}

		judgedAt := p.clock.Now()
		stocks := make(map[string]int)
		missing := make(map[string]bool)
		for _, b := range due {
			stock, ok := stocks[b.ItemCD]
			if !ok {
				var found bool
				stock, found, err = p.facts.LatestStock(ctx, tx, storeID, b.ItemCD)
				if err != nil {
					return err
				}
				if !found {
					// Nothing collected: assume nothing sold.
					stock, err = p.batches.ActiveTotal(ctx, tx, storeID, b.ItemCD)
					if err != nil {
						return err
					}
					missing[b.ItemCD] = true
				}
				stocks[b.ItemCD] = stock
				result.Items++
			}

			j := &models.ExpiryJudgement{
				EventID:      eventID,
				StoreID:      storeID,
				ExpiryHour:   hour,
				BatchID:      b.ID,
				ItemCD:       b.ItemCD,
				RemainingQty: b.RemainingQty,
				StockAtJudge: stock,
				Stale:        result.Stale || missing[b.ItemCD],
				JudgedAt:     judgedAt,
			}
			if err := p.judgements.Insert(ctx, tx, j); err != nil {
				return err
			}
			result.Batches++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyJudged) {
			log.Info("event already judged")
			return result, ErrAlreadyJudged
		}
		return nil, fmt.Errorf("judging %s: %w", eventID, err)
	}

	entry := log.WithFields(logrus.Fields{
		"batches": result.Batches,
		"items":   result.Items,
	})
	if result.Stale {
		entry.Warn("judged on stale data")
	} else {
		entry.Info("event judged")
	}
	return result, nil
}

// Confirm collects again after the event and closes every pending
// judgement. Units sold since JUDGE are taken from the judged batches
// oldest first; whatever is left was wasted and the batch expires with it.
func (p *ExpiryProtocol) Confirm(ctx context.Context, storeID string, date time.Time, hour int) (*ConfirmResult, error) {
	eventID := util.ExpiryEventID(storeID, date, hour)
	result := &ConfirmResult{EventID: eventID, RunID: util.NewRunID()}
	log := p.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"event_id": eventID,
		"run_id":   result.RunID,
		"phase":    "confirm",
	})

	result.Degraded = !p.collect(ctx, storeID, log)

	err := database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		pending, err := p.judgements.ListPendingForEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		now := p.clock.Now()
		for _, group := range groupByItem(pending) {
			if err := p.confirmItem(ctx, tx, storeID, group, now, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirming %s: %w", eventID, err)
	}

	log.WithFields(logrus.Fields{
		"items":       result.Items,
		"expired":     result.Expired,
		"consumed":    result.Consumed,
		"skipped":     result.Skipped,
		"waste_qty":   result.WasteQty,
		"rescued_qty": result.RescuedQty,
		"degraded":    result.Degraded,
	}).Info("event confirmed")
	return result, nil
}

func (p *ExpiryProtocol) confirmItem(ctx context.Context, tx *sql.Tx, storeID string, group []*models.ExpiryJudgement, now time.Time, result *ConfirmResult) error {
	itemCD := group[0].ItemCD
	stockAtJudge := group[0].StockAtJudge

	stockNow, found, err := p.facts.LatestStock(ctx, tx, storeID, itemCD)
	if err != nil {
		return err
	}
	if !found {
		stockNow = stockAtJudge
		result.Degraded = true
	}

	sold := max(0, stockAtJudge-stockNow)
	result.Items++

	for _, j := range group {
		result.JudgedQty += j.RemainingQty

		deduct := min(sold, j.RemainingQty)
		sold -= deduct
		residual := j.RemainingQty - deduct

		b, err := p.batches.GetByID(ctx, tx, j.BatchID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			result.Skipped++
			if err := p.judgements.Resolve(ctx, tx, j.ID, models.ResolutionConfirmed, nil, now); err != nil {
				return err
			}
			continue
		}

		// Sales ingested since JUDGE may already have drawn the batch down.
		residual = min(residual, b.RemainingQty)

		status := models.BatchStatusExpired
		if residual == 0 {
			status = models.BatchStatusConsumed
		}
		if err := p.batches.UpdateRemaining(ctx, tx, b.ID, residual, status); err != nil {
			return err
		}

		if residual > 0 {
			result.Expired++
			result.WasteQty += residual
		} else {
			result.Consumed++
		}
		result.RescuedQty += j.RemainingQty - residual

		if err := p.judgements.Resolve(ctx, tx, j.ID, models.ResolutionConfirmed, &residual, now); err != nil {
			return err
		}
	}
	return nil
}

// Sweep is the time-based fallback. Every active batch past its expiry
// instant, less the sweep grace, leaves the ledger, and pending judgements
// from the same period are closed as swept.
func (p *ExpiryProtocol) Sweep(ctx context.Context, storeID string, now time.Time) (*SweepResult, error) {
	cutoff := now.Add(-p.opts.SweepGrace)
	result := &SweepResult{}

	err := database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		expired, err := p.batches.ListExpiredAt(ctx, tx, storeID, cutoff)
		if err != nil {
			return err
		}

		for _, b := range expired {
			status := models.BatchStatusExpired
			if b.RemainingQty == 0 {
				status = models.BatchStatusConsumed
			}
			if err := p.batches.UpdateRemaining(ctx, tx, b.ID, b.RemainingQty, status); err != nil {
				return err
			}
			if status == models.BatchStatusExpired {
				result.Expired++
				result.WasteQty += b.RemainingQty
			} else {
				result.Consumed++
			}
		}

		pending, err := p.judgements.ListPending(ctx, tx, storeID, cutoff)
		if err != nil {
			return err
		}
		resolvedAt := p.clock.Now()
		for _, j := range pending {
			if err := p.judgements.Resolve(ctx, tx, j.ID, models.ResolutionSwept, nil, resolvedAt); err != nil {
				return err
			}
			result.Resolved++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweeping store %s: %w", storeID, err)
	}

	p.log.WithFields(logrus.Fields{
		"store_id":  storeID,
		"cutoff":    cutoff.Format(time.RFC3339),
		"expired":   result.Expired,
		"consumed":  result.Consumed,
		"resolved":  result.Resolved,
		"waste_qty": result.WasteQty,
	}).Info("expiry sweep complete")
	return result, nil
}

func (p *ExpiryProtocol) collect(ctx context.Context, storeID string, log logrus.FieldLogger) bool {
	if p.collector == nil {
		return true
	}
	if err := p.collector.Collect(ctx, storeID); err != nil {
		log.WithError(err).Warn("collection failed, continuing on stored data")
		return false
	}
	return true
}

func (p *ExpiryProtocol) isStale(ctx context.Context, tx *sql.Tx, storeID string, eventTime time.Time) (bool, error) {
	last, found, err := p.facts.LastCollectedAt(ctx, tx, storeID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return last.Before(eventTime.Add(-2 * p.opts.Window)), nil
}

// groupByItem splits judgements, already sorted by item, into per-item runs.
func groupByItem(judgements []*models.ExpiryJudgement) [][]*models.ExpiryJudgement {
	var groups [][]*models.ExpiryJudgement
	for i, j := range judgements {
		if i == 0 || j.ItemCD != judgements[i-1].ItemCD {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], j)
	}
	return groups
}
