package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/scheduler"
	"github.com/storeops/storeops/internal/services/orders"
	"github.com/storeops/storeops/internal/util"
)

func newDiffCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare an order date's snapshots with confirmed receiving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			today := util.DateIn(a.clock.Now(), a.loc)
			orderDate, err := parseDate("date", date, a.loc, util.AddDays(today, -a.cfg.Diff.ExpectedLeadDays))
			if err != nil {
				return err
			}
			stores, err := a.stores(opts)
			if err != nil {
				return err
			}

			outputs, err := a.forStores(cmd.Context(), stores, nil, func(ctx context.Context, storeID string) (any, error) {
				return a.diffs.Run(ctx, storeID, util.FormatDate(orderDate))
			})
			return a.finish(outputs, err, renderDiff)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "order date YYYY-MM-DD (default: today less the expected lead days)")
	return cmd
}

func renderDiff(p *printer, o storeOutput) {
	r, ok := o.Result.(*orders.DiffResult)
	if !ok {
		return
	}
	renderSummary(p, o.StoreID, r.Summary)
	if len(r.Diffs) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Diffs))
	for _, d := range r.Diffs {
		rows = append(rows, []string{
			d.ItemCD, d.ItemNM, string(d.DiffType),
			itoa(d.AutoOrderQty), itoa(d.ConfirmedOrderQty), itoa(d.ReceivingQty),
		})
	}
	p.table([]string{"item", "name", "diff", "auto", "confirmed", "received"}, rows)
}

func renderSummary(p *printer, storeID string, s *models.DiffSummary) {
	p.title("store %s: order date %s (receiving %s)", storeID, s.OrderDate, s.ReceivingDate)
	if !s.HasReceivingData {
		p.warn("  no receiving data collected yet")
	}
	p.table(
		[]string{"unchanged", "qty changed", "added", "removed", "receiving", "not comparable", "match rate"},
		[][]string{{
			itoa(s.UnchangedCount), itoa(s.QtyChangedCount), itoa(s.AddedCount), itoa(s.RemovedCount),
			itoa(s.ReceivingDiffCount), itoa(s.NotComparableCount), fmt.Sprintf("%.1f%%", s.MatchRate*100),
		}},
	)
}

func newBackfillCommand(opts *RootOptions) *cobra.Command {
	var (
		from, to string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild snapshots from order history and rerun their diffs",
		Long: `Rebuild order snapshots for past dates from the decision engine's order
tracking and eval logs, then rerun the diff for each date. Dates that
already have live snapshots are skipped unless --force is given; executed
snapshots are never rewritten.`,
		Example: "  storeops backfill --from 2025-03-01 --to 2025-03-14 --store 46513",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			start, err := parseDate("from", from, a.loc, time.Time{})
			if err != nil {
				return err
			}
			end, err := parseDate("to", to, a.loc, start)
			if err != nil {
				return err
			}
			if err := validateRange(start, end); err != nil {
				return err
			}
			stores, err := a.stores(opts)
			if err != nil {
				return err
			}

			lockKey := func(storeID string) string { return scheduler.StoreKey("backfill", storeID) }
			outputs, err := a.forStores(cmd.Context(), stores, lockKey, func(ctx context.Context, storeID string) (any, error) {
				res, err := a.backfiller.BackfillRange(ctx, storeID, start, end, force)
				if err != nil {
					return nil, err
				}
				if len(res.Failed) > 0 {
					return res, fmt.Errorf("%d dates failed", len(res.Failed))
				}
				return res, nil
			})
			return a.finish(outputs, err, renderBackfill)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first order date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last order date YYYY-MM-DD (default: --from)")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild dates that have live snapshots")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func renderBackfill(p *printer, o storeOutput) {
	r, ok := o.Result.(*orders.RangeResult)
	if !ok {
		return
	}
	p.title("store %s", o.StoreID)
	rows := make([][]string, 0, len(r.Results)+len(r.Failed))
	for _, res := range r.Results {
		match := "-"
		if res.Diff != nil {
			match = fmt.Sprintf("%.1f%%", res.Diff.Summary.MatchRate*100)
		}
		if res.Skipped {
			rows = append(rows, []string{res.OrderDate, "skipped (live)", "", "", "", ""})
			continue
		}
		rows = append(rows, []string{res.OrderDate, "rebuilt", itoa(res.Written), itoa(res.Dropped), itoa(res.Frozen), match})
	}
	for _, f := range r.Failed {
		rows = append(rows, []string{f.OrderDate, "failed: " + f.Err.Error(), "", "", "", ""})
	}
	p.table([]string{"date", "outcome", "written", "dropped", "frozen", "match"}, rows)
}

func newFeedbackCommand(opts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Summarize how stores edited automated orders per item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			today := util.DateIn(a.clock.Now(), a.loc)
			end, err := parseDate("to", to, a.loc, today)
			if err != nil {
				return err
			}
			start, err := parseDate("from", from, a.loc, util.AddDays(end, -27))
			if err != nil {
				return err
			}
			if err := validateRange(start, end); err != nil {
				return err
			}
			stores, err := a.stores(opts)
			if err != nil {
				return err
			}

			outputs, err := a.forStores(cmd.Context(), stores, nil, func(ctx context.Context, storeID string) (any, error) {
				return a.diffs.Feedback(ctx, storeID, util.FormatDate(start), util.FormatDate(end))
			})
			return a.finish(outputs, err, renderFeedback)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first order date YYYY-MM-DD (default: four weeks before --to)")
	cmd.Flags().StringVar(&to, "to", "", "last order date YYYY-MM-DD (default: today)")
	return cmd
}

func renderFeedback(p *printer, o storeOutput) {
	items, _ := o.Result.([]*models.ItemFeedback)
	p.title("store %s", o.StoreID)
	rows := make([][]string, 0, len(items))
	for _, f := range items {
		rows = append(rows, []string{
			f.ItemCD, f.ItemNM, itoa(f.Days),
			itoa(f.RemovedCount), itoa(f.AddedCount), itoa(f.QtyChangedCount),
			fmt.Sprintf("%.2f", f.AvgQtyDiff),
			fmt.Sprintf("%.1f%%", f.RemovalRate*100),
			fmt.Sprintf("%.1f%%", f.AdditionRate*100),
		})
	}
	p.table([]string{"item", "name", "days", "removed", "added", "qty changed", "avg diff", "removal", "addition"}, rows)
}

func newSnapshotsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage order snapshots",
	}

	var date string
	dateFlag := func(c *cobra.Command) {
		c.Flags().StringVar(&date, "date", "", "order date YYYY-MM-DD (default: today)")
	}
	orderDate := func(a *app) (string, error) {
		d, err := parseDate("date", date, a.loc, util.DateIn(a.clock.Now(), a.loc))
		if err != nil {
			return "", err
		}
		return util.FormatDate(d), nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List a store's snapshots for an order date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			storeID, err := a.store(opts)
			if err != nil {
				return err
			}
			d, err := orderDate(a)
			if err != nil {
				return err
			}
			snaps, err := a.snapshots.GetByDate(cmd.Context(), storeID, d)
			if err != nil {
				return err
			}
			return a.out.emit(snaps, func(p *printer) { renderSnapshots(p, snaps) })
		},
	}
	dateFlag(list)

	record := &cobra.Command{
		Use:   "record <file>",
		Short: "Record the decision engine's output as live snapshots",
		Long: `Record a JSON array of per-item decisions as live snapshots for one store
and order date. Rows fail independently; executed snapshots are frozen.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			storeID, err := a.store(opts)
			if err != nil {
				return err
			}
			d, err := orderDate(a)
			if err != nil {
				return err
			}
			records, err := readDecisions(args[0])
			if err != nil {
				return err
			}

			res := a.snapshots.RecordDecisions(cmd.Context(), storeID, d, records)
			if err := a.out.emit(res, func(p *printer) {
				p.line("store %s: %d decisions recorded for %s", storeID, res.Written, d)
				for _, f := range res.Failed {
					p.warn("  row %d (%s): %v", f.Index, f.ItemCD, f.Err)
				}
			}); err != nil {
				return err
			}
			if err := res.Err(); err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d decisions failed", len(res.Failed)), err)
			}
			return nil
		},
	}
	dateFlag(record)

	var (
		item   string
		failed bool
	)
	markExecuted := &cobra.Command{
		Use:   "mark-executed",
		Short: "Freeze a snapshot once its order was placed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			storeID, err := a.store(opts)
			if err != nil {
				return err
			}
			d, err := orderDate(a)
			if err != nil {
				return err
			}
			if err := a.snapshots.MarkExecuted(cmd.Context(), storeID, d, item, !failed); err != nil {
				return err
			}
			return a.out.emit(map[string]any{"store_id": storeID, "order_date": d, "item_cd": item, "success": !failed}, func(p *printer) {
				p.line("store %s: %s on %s marked executed", storeID, item, d)
			})
		},
	}
	dateFlag(markExecuted)
	markExecuted.Flags().StringVar(&item, "item", "", "item code")
	markExecuted.Flags().BoolVar(&failed, "failed", false, "the order was attempted but not placed")
	_ = markExecuted.MarkFlagRequired("item")

	cmd.AddCommand(list, record, markExecuted)
	return cmd
}

func readDecisions(path string) ([]models.DecisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening decisions", err)
	}
	defer f.Close()

	var records []models.DecisionRecord
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, WrapExitError(ExitCommandError, "decoding decisions", err)
	}
	return records, nil
}

func renderSnapshots(p *printer, snaps []*models.OrderSnapshot) {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		executed := ""
		if s.IsExecuted() {
			executed = s.ExecutedAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			s.ItemCD, s.ItemNM, fmt.Sprintf("%.1f", s.PredictedQty),
			itoa(s.RecommendedQty), itoa(s.FinalOrderQty), string(s.Source), executed,
		})
	}
	p.table([]string{"item", "name", "predicted", "recommended", "final", "source", "executed"}, rows)
}
