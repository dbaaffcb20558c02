package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/storeops/storeops/internal/config"
)

// StoreResult is the outcome of one store's job.
type StoreResult struct {
	StoreID  string
	Err      error
	Duration time.Duration
}

// Pool runs a job for many stores with bounded concurrency and a staggered
// start. A failing store never stops the others.
type Pool struct {
	limit   int
	stagger time.Duration
	log     logrus.FieldLogger
}

// NewPool creates a pool from the workers configuration.
func NewPool(cfg *config.WorkersConfig, log logrus.FieldLogger) *Pool {
	limit := cfg.MaxConcurrency
	if limit < 1 {
		limit = 1
	}
	return &Pool{limit: limit, stagger: cfg.Stagger(), log: log}
}

// RunStores calls fn once per store and returns the results in store order.
// Stores not yet started when ctx ends report the context error.
func (p *Pool) RunStores(ctx context.Context, stores []string, fn func(ctx context.Context, storeID string) error) []StoreResult {
	results := make([]StoreResult, len(stores))

	var g errgroup.Group
	g.SetLimit(p.limit)

	for i, storeID := range stores {
		results[i].StoreID = storeID

		if i > 0 && p.stagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.stagger):
			}
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		i, storeID := i, storeID
		g.Go(func() error {
			start := time.Now()
			err := fn(ctx, storeID)
			results[i].Err = err
			results[i].Duration = time.Since(start)

			log := p.log.WithFields(logrus.Fields{
				"store_id": storeID,
				"duration": results[i].Duration.String(),
			})
			if err != nil {
				log.WithError(err).Warn("store job failed")
			} else {
				log.Debug("store job complete")
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
