package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/scheduler"
	"github.com/storeops/storeops/internal/services/inventory"
)

type phaseFunc func(ctx context.Context, a *app, storeID string, date time.Time, hour int) (any, error)

func newExpiryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Run the hourly expiry confirmation phases",
		Long: `Expiry events are confirmed in three phases per store and expiry hour:

  pre-collect  refresh facts shortly before the expiry instant
  judge        snapshot due batches and stock at the expiry instant
  confirm      refresh again and close the judged batches

sweep is the time-based fallback for batches no phase confirmed.`,
	}

	cmd.AddCommand(newPhaseCommand(opts, "pre-collect", "Refresh facts before an expiry event", preCollectPhase))
	cmd.AddCommand(newPhaseCommand(opts, "judge", "Judge the batches due at an expiry event", judgePhase))
	cmd.AddCommand(newPhaseCommand(opts, "confirm", "Confirm waste for a judged expiry event", confirmPhase))
	cmd.AddCommand(newSweepCommand(opts))
	return cmd
}

func newPhaseCommand(opts *RootOptions, use, short string, phase phaseFunc) *cobra.Command {
	var (
		hour int
		date string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Example: "  storeops expiry " + use + " --hour 14\n" +
			"  storeops expiry " + use + " --hour 2 --date 2025-03-15 --store 46513",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateHour(hour); err != nil {
				return err
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			eventDate, err := parseDate("date", date, a.loc, nearestEventDate(a.clock.Now(), hour, a.loc))
			if err != nil {
				return err
			}
			stores, err := a.stores(opts)
			if err != nil {
				return err
			}

			lockKey := func(storeID string) string { return scheduler.PhaseKey(storeID, hour) }
			outputs, err := a.forStores(cmd.Context(), stores, lockKey, func(ctx context.Context, storeID string) (any, error) {
				return phase(ctx, a, storeID, eventDate, hour)
			})
			return a.finish(outputs, err, renderExpiry)
		},
	}

	cmd.Flags().IntVar(&hour, "hour", 0, "expiry hour of day (0-23)")
	cmd.Flags().StringVar(&date, "date", "", "event date YYYY-MM-DD (default: the date whose hour is nearest now)")
	_ = cmd.MarkFlagRequired("hour")
	return cmd
}

func preCollectPhase(ctx context.Context, a *app, storeID string, date time.Time, hour int) (any, error) {
	return a.protocol.PreCollect(ctx, storeID, date, hour), nil
}

func judgePhase(ctx context.Context, a *app, storeID string, date time.Time, hour int) (any, error) {
	res, err := a.protocol.Judge(ctx, storeID, date, hour)
	if errors.Is(err, inventory.ErrAlreadyJudged) {
		return res, errSkipped{reason: "event " + res.EventID + " already judged"}
	}
	return res, err
}

func confirmPhase(ctx context.Context, a *app, storeID string, date time.Time, hour int) (any, error) {
	return a.protocol.Confirm(ctx, storeID, date, hour)
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every batch past its expiry instant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			stores, err := a.stores(opts)
			if err != nil {
				return err
			}

			lockKey := func(storeID string) string { return scheduler.StoreKey("sweep", storeID) }
			outputs, err := a.forStores(cmd.Context(), stores, lockKey, func(ctx context.Context, storeID string) (any, error) {
				return a.protocol.Sweep(ctx, storeID, a.clock.Now())
			})
			return a.finish(outputs, err, renderExpiry)
		},
	}
}

func renderExpiry(p *printer, o storeOutput) {
	switch r := o.Result.(type) {
	case *inventory.PhaseResult:
		if r.Degraded {
			p.warn("store %s: %s collection failed, running on stored data", o.StoreID, r.EventID)
			return
		}
		p.line("store %s: %s collected (run %s)", o.StoreID, r.EventID, r.RunID)
	case *inventory.JudgeResult:
		p.line("store %s: %s judged %d batches over %d items", o.StoreID, r.EventID, r.Batches, r.Items)
		if r.Stale {
			p.warn("  judged on stale data")
		}
	case *inventory.ConfirmResult:
		p.title("store %s: %s", o.StoreID, r.EventID)
		p.table(
			[]string{"items", "expired", "consumed", "skipped", "judged", "waste", "rescued"},
			[][]string{{itoa(r.Items), itoa(r.Expired), itoa(r.Consumed), itoa(r.Skipped), itoa(r.JudgedQty), itoa(r.WasteQty), itoa(r.RescuedQty)}},
		)
		if r.Degraded {
			p.warn("  confirmed on stored data")
		}
	case *inventory.SweepResult:
		p.line("store %s: swept %d expired (%d units), %d consumed, %d judgements closed",
			o.StoreID, r.Expired, r.WasteQty, r.Consumed, r.Resolved)
	}
}
