package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/collector"
	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/logging"
	"github.com/storeops/storeops/internal/scheduler"
	"github.com/storeops/storeops/internal/services/inventory"
	"github.com/storeops/storeops/internal/services/orders"
	"github.com/storeops/storeops/internal/util"
)

// env is the configuration and logger every command starts from.
type env struct {
	cfg     *config.Config
	cfgPath string
	log     *logrus.Logger
	loc     *time.Location
	out     *printer

	closers []func() error
}

func loadEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	cfg, cfgPath, err := config.Load(opts.ConfigPath, true)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}

	if _, err := config.EnsureLogDir(cfg); err != nil {
		return nil, err
	}
	log, logFile, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "setting up logging", err)
	}

	loc, err := cfg.Chain.Location()
	if err != nil {
		logFile.Close()
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     log,
		loc:     loc,
		out:     &printer{format: opts.Format, w: cmd.OutOrStdout()},
	}
	e.closers = append(e.closers, logFile.Close)
	return e, nil
}

// Close runs the registered closers, newest first.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Warn("error during shutdown")
		}
	}
}

func (e *env) backupDir() string {
	dir, err := config.BackupDir(e.cfg)
	if err != nil {
		e.log.WithError(err).Warn("failed to create backup directory")
		return ""
	}
	return dir
}

// app is a fully wired environment with the database open and migrated.
type app struct {
	*env
	op     string
	db     *database.DB
	clock  util.Clock
	locker scheduler.Locker
	pool   *scheduler.Pool

	ledger     *inventory.Ledger
	ingestor   *inventory.Ingestor
	protocol   *inventory.ExpiryProtocol
	reconciler *inventory.Reconciler
	snapshots  *orders.SnapshotStore
	diffs      *orders.DiffService
	backfiller *orders.Backfiller
}

func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	ctx := cmd.Context()

	e, err := loadEnv(cmd, opts)
	if err != nil {
		return nil, err
	}
	a := &app{env: e, op: cmd.CommandPath(), clock: util.SystemClock{Location: e.loc}}
	if err := a.open(ctx, opts); err != nil {
		e.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, opts *RootOptions) error {
	a.log.WithFields(logrus.Fields{
		"chain":       a.cfg.Chain.Name,
		"config_path": a.cfgPath,
	}).Debug("storeops starting")

	backupDir := a.backupDir()

	report, err := database.Recover(ctx, a.cfg.Database.Path, backupDir, a.log)
	if err != nil {
		return fmt.Errorf("database recovery failed: %w", err)
	}
	if report.Outcome == database.RecoveryRestored {
		a.log.WithField("backup", report.BackupUsed).Warn("database restored from backup")
	}

	db, err := database.Open(a.cfg.Database.Path, &a.cfg.Database, backupDir, a.log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	migrator, err := database.NewMigrator(db.DB, a.log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	result, err := migrator.MigrateUp(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if len(result.Applied) > 0 {
		a.log.WithFields(logrus.Fields{
			"count":      len(result.Applied),
			"to_version": result.TargetVersion,
		}).Info("applied migrations")
	}

	locker, closeLocker, err := scheduler.NewLocker(ctx, &a.cfg.Lock, a.log)
	if err != nil {
		return err
	}
	a.locker = locker
	a.closers = append(a.closers, closeLocker)

	if opts.Instance {
		lock, err := locker.Obtain(ctx, a.cfg.Lock.InstanceKey, a.cfg.Lock.TTL())
		if err != nil {
			if errors.Is(err, scheduler.ErrLockHeld) {
				return WrapExitError(ExitCommandError, "another scheduler instance is running", err)
			}
			return err
		}
		a.closers = append(a.closers, func() error { return lock.Release(context.WithoutCancel(ctx)) })
	}

	a.pool = scheduler.NewPool(&a.cfg.Workers, a.log.WithField("component", "pool"))

	svcLog := a.log.WithField("component", "inventory")
	a.ledger = inventory.NewLedger(db.DB, inventory.NewExpiryTable(&a.cfg.Expiry), a.loc, svcLog)
	a.ingestor = inventory.NewIngestor(a.ledger, a.clock, svcLog)
	a.reconciler = inventory.NewReconciler(a.ledger, svcLog)

	coll := collector.New(&a.cfg.Collector, a.ingestor, a.log.WithField("component", "collector"))
	a.protocol = inventory.NewExpiryProtocol(a.ledger, coll, a.clock, inventory.ProtocolOptions{
		Window:     a.cfg.Expiry.Window(),
		SweepGrace: time.Duration(a.cfg.Expiry.SweepGraceHours) * time.Hour,
	}, a.log.WithField("component", "expiry"))

	ordersLog := a.log.WithField("component", "orders")
	a.snapshots = orders.NewSnapshotStore(db.DB, a.clock, ordersLog)
	a.diffs = orders.NewDiffService(db.DB, &a.cfg.Diff, ordersLog)
	a.backfiller = orders.NewBackfiller(db.DB, a.diffs, ordersLog)
	return nil
}

// stores resolves the --store flag against the configured chain.
func (a *app) stores(opts *RootOptions) ([]string, error) {
	stores := opts.Stores
	if len(stores) == 0 {
		stores = a.cfg.Chain.Stores
	}
	if len(stores) == 0 {
		return nil, NewExitError(ExitCommandError, "no stores selected: set chain.stores or pass --store")
	}

	seen := make(map[string]bool, len(stores))
	out := make([]string, 0, len(stores))
	for _, s := range stores {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// store resolves exactly one store.
func (a *app) store(opts *RootOptions) (string, error) {
	stores, err := a.stores(opts)
	if err != nil {
		return "", err
	}
	if len(stores) != 1 {
		return "", NewExitError(ExitCommandError, "this command takes a single store: pass --store")
	}
	return stores[0], nil
}

// storeOutput is one store's entry in a multi-store command's output.
type storeOutput struct {
	StoreID string `json:"store_id"`
	Result  any    `json:"result,omitempty"`
	Note    string `json:"note,omitempty"`
	Error   string `json:"error,omitempty"`
}

// errSkipped marks a store job that did not run and did not fail.
type errSkipped struct{ reason string }

func (e errSkipped) Error() string { return e.reason }

// forStores runs job for every store on the pool. Each store's work runs
// under lockKey(store) when lockKey is set. A store whose lock is held is
// skipped, not failed.
func (a *app) forStores(ctx context.Context, stores []string, lockKey func(storeID string) string, job func(ctx context.Context, storeID string) (any, error)) ([]storeOutput, error) {
	outputs := make([]storeOutput, len(stores))
	index := make(map[string]int, len(stores))
	for i, s := range stores {
		index[s] = i
		outputs[i].StoreID = s
	}

	var mu sync.Mutex
	results := a.pool.RunStores(ctx, stores, func(ctx context.Context, storeID string) error {
		run := func(ctx context.Context) error {
			res, err := job(ctx, storeID)
			mu.Lock()
			outputs[index[storeID]].Result = res
			mu.Unlock()
			return err
		}

		var err error
		if lockKey == nil {
			err = run(ctx)
		} else {
			err = scheduler.WithLock(ctx, a.locker, lockKey(storeID), a.cfg.Lock.TTL(), a.log, run)
			if errors.Is(err, scheduler.ErrLockHeld) {
				err = errSkipped{reason: "lock held by another run"}
			}
		}

		var skipped errSkipped
		if errors.As(err, &skipped) {
			mu.Lock()
			outputs[index[storeID]].Note = skipped.reason
			mu.Unlock()
			return nil
		}
		return err
	})

	var errs []error
	for i, r := range results {
		if r.Err != nil {
			logging.LogError(a.log, a.op, r.StoreID, outputs[i].Result, r.Err)
			outputs[i].Error = r.Err.Error()
			errs = append(errs, fmt.Errorf("store %s: %w", r.StoreID, r.Err))
		}
	}
	if len(errs) > 0 {
		return outputs, WrapExitError(ExitFailure, "job failed", errors.Join(errs...))
	}
	return outputs, nil
}

// finish prints outputs and passes err through so partial results are
// shown before a failure exit.
func (a *app) finish(outputs []storeOutput, err error, render func(p *printer, o storeOutput)) error {
	if printErr := a.out.emit(outputs, func(p *printer) {
		for _, o := range outputs {
			switch {
			case o.Error != "":
				p.warn("store %s: %s", o.StoreID, o.Error)
			case o.Note != "":
				p.line("store %s: %s", o.StoreID, o.Note)
			default:
				render(p, o)
			}
		}
	}); printErr != nil {
		return printErr
	}
	return err
}
