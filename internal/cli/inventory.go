package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/scheduler"
	"github.com/storeops/storeops/internal/services/inventory"
	"github.com/storeops/storeops/internal/util"
)

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Correct batch drift against the latest collected stock",
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

			lockKey := func(storeID string) string { return scheduler.StoreKey("reconcile", storeID) }
			outputs, err := a.forStores(cmd.Context(), stores, lockKey, func(ctx context.Context, storeID string) (any, error) {
				return a.reconciler.ReconcileStore(ctx, storeID)
			})
			return a.finish(outputs, err, renderReconcile)
		},
	}
}

func renderReconcile(p *printer, o storeOutput) {
	r, ok := o.Result.(*inventory.ReconcileReport)
	if !ok {
		return
	}
	p.line("store %s: %d items checked, %d corrected (%d units)", o.StoreID, r.Items, r.CorrectedItems, r.CorrectedUnits)
	if len(r.Anomalies) > 0 {
		rows := make([][]string, 0, len(r.Anomalies))
		for _, an := range r.Anomalies {
			rows = append(rows, []string{an.ItemCD, itoa(an.BatchTotal), itoa(an.Stock)})
		}
		p.warn("  stock above tracked batches:")
		p.table([]string{"item", "batches", "stock"}, rows)
	}
	if len(r.MissingStock) > 0 {
		p.warn("  no stock collected for: %s", strings.Join(r.MissingStock, ", "))
	}
}

func newIngestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a collected fact bundle",
		Long: `Ingest a JSON fact bundle as written by the collector:

  {"store_id": "46513", "daily": [...], "receiving": [...]}

Receiving facts open batches; daily sales increases are consumed FIFO.
Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "opening fact bundle", err)
				}
				defer f.Close()
				r = f
			}

			bundle, err := inventory.DecodeBundle(r)
			if err != nil {
				return WrapExitError(ExitCommandError, "reading fact bundle", err)
			}
			if bundle.StoreID == "" && len(opts.Stores) == 1 {
				bundle.StoreID = opts.Stores[0]
			}

			res, err := a.ingestor.IngestBundle(cmd.Context(), bundle)
			if err != nil {
				return WrapExitError(ExitCommandError, "ingesting fact bundle", err)
			}

			if err := a.out.emit(res, func(p *printer) {
				p.line("store %s: %d rows accepted, %d batches opened, %d units consumed",
					bundle.StoreID, res.Accepted, res.BatchesCreated, res.UnitsConsumed)
				if len(res.Rejected) > 0 {
					rows := make([][]string, 0, len(res.Rejected))
					for _, re := range res.Rejected {
						rows = append(rows, []string{itoa(re.Index), re.ItemCD, re.Err.Error()})
					}
					p.warn("  rejected rows:")
					p.table([]string{"row", "item", "error"}, rows)
				}
			}); err != nil {
				return err
			}

			if err := res.Err(); err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d rows rejected", len(res.Rejected)), err)
			}
			return nil
		},
	}
}

func newBatchesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect the batch ledger",
	}

	var item string
	list := &cobra.Command{
		Use:   "list",
		Short: "List an item's active batches, oldest first",
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
			batches, err := a.ledger.GetActive(cmd.Context(), storeID, item)
			if err != nil {
				return err
			}
			return a.out.emit(batches, func(p *printer) { renderBatches(p, batches) })
		},
	}
	list.Flags().StringVar(&item, "item", "", "item code")
	_ = list.MarkFlagRequired("item")

	var days int
	expiring := &cobra.Command{
		Use:   "expiring",
		Short: "List active batches expiring within the next days",
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
			batches, err := a.ledger.GetExpiringSoon(cmd.Context(), storeID, days, a.clock.Now())
			if err != nil {
				return err
			}
			return a.out.emit(batches, func(p *printer) { renderBatches(p, batches) })
		},
	}
	expiring.Flags().IntVar(&days, "days", 1, "days ahead")

	var (
		mid, status    string
		page, pageSize int
	)
	all := &cobra.Command{
		Use:   "all",
		Short: "Page through batches in any status",
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
			filter := models.BatchFilter{StoreID: storeID, ItemCD: item, MidCD: mid}
			if status != "" {
				st := models.BatchStatus(status)
				switch st {
				case models.BatchStatusActive, models.BatchStatusConsumed, models.BatchStatusExpired:
				default:
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q", status))
				}
				filter.Status = &st
			}

			res, err := a.ledger.List(cmd.Context(), filter, models.Pagination{Page: page, PageSize: pageSize})
			if err != nil {
				return err
			}
			return a.out.emit(res, func(p *printer) {
				renderBatches(p, res.Batches)
				p.line("page %d of %d (%d batches)", res.Page, res.TotalPages, res.Total)
			})
		},
	}
	all.Flags().StringVar(&item, "item", "", "item code")
	all.Flags().StringVar(&mid, "mid", "", "category code")
	all.Flags().StringVar(&status, "status", "", "active, consumed or expired")
	all.Flags().IntVar(&page, "page", 1, "page number")
	all.Flags().IntVar(&pageSize, "page-size", 25, "batches per page (max 100)")

	cmd.AddCommand(list, expiring, all)
	return cmd
}

func renderBatches(p *printer, batches []*models.InventoryBatch) {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			fmt.Sprintf("%d", b.ID),
			b.ItemCD,
			b.ItemNM,
			util.FormatDate(b.ReceivingDate),
			b.ExpiresAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d/%d", b.RemainingQty, b.InitialQty),
			b.Status.String(),
		})
	}
	p.table([]string{"id", "item", "name", "received", "expires", "remaining", "status"}, rows)
}
