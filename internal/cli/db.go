package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/database"
	"github.com/storeops/storeops/internal/util"
)

// openRaw opens the database without recovery or migrations.
func openRaw(cmd *cobra.Command, opts *RootOptions) (*env, *database.DB, error) {
	e, err := loadEnv(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(e.cfg.Database.Path, &e.cfg.Database, e.backupDir(), e.log)
	if err != nil {
		e.Close()
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	e.closers = append(e.closers, db.Close)
	return e, db, nil
}

type migrationView struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	Applied     bool   `json:"applied"`
	AppliedAt   string `json:"applied_at,omitempty"`
}

func viewMigrations(migs []database.Migration) []migrationView {
	out := make([]migrationView, 0, len(migs))
	for _, m := range migs {
		v := migrationView{Version: m.Version, Description: m.Description, Applied: m.Applied}
		if m.Applied && !m.AppliedAt.IsZero() {
			v.AppliedAt = util.FormatDateTime(m.AppliedAt)
		}
		out = append(out, v)
	}
	return out
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withMigrator := func(run func(ctx context.Context, e *env, m *database.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, db, err := openRaw(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := database.NewMigrator(db.DB, e.log)
			if err != nil {
				return fmt.Errorf("creating migrator: %w", err)
			}
			return run(cmd.Context(), e, m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, e *env, m *database.Migrator) error {
			res, err := m.MigrateUp(ctx)
			if err != nil {
				return err
			}
			return e.out.emit(map[string]any{"applied": viewMigrations(res.Applied), "version": res.TargetVersion}, func(p *printer) {
				if len(res.Applied) == 0 {
					p.line("schema up to date at version %d", res.CurrentVersion)
					return
				}
				p.line("applied %d migrations, now at version %d", len(res.Applied), res.TargetVersion)
			})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, e *env, m *database.Migrator) error {
			res, err := m.MigrateDown(ctx)
			if err != nil {
				return err
			}
			return e.out.emit(map[string]any{"version": res.TargetVersion}, func(p *printer) {
				p.line("rolled back to version %d", res.TargetVersion)
			})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show every migration and whether it is applied",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, e *env, m *database.Migrator) error {
			migs, err := m.Status(ctx)
			if err != nil {
				return err
			}
			views := viewMigrations(migs)
			return e.out.emit(views, func(p *printer) {
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					state := "pending"
					if v.Applied {
						state = "applied " + v.AppliedAt
					}
					rows = append(rows, []string{fmt.Sprintf("%03d", v.Version), v.Description, state})
				}
				p.table([]string{"version", "description", "state"}, rows)
			})
		}),
	})

	return cmd
}

func newDBCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database to the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, db, err := openRaw(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			path, err := db.Backup(cmd.Context())
			if err != nil {
				return err
			}
			return e.out.emit(map[string]string{"path": path}, func(p *printer) {
				p.line("backup written to %s", path)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Check the database and restore it from WAL or backup if damaged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			report, recoverErr := database.Recover(cmd.Context(), e.cfg.Database.Path, e.backupDir(), e.log)
			if err := e.out.emit(report, func(p *printer) {
				p.title("%s: %s", report.DatabasePath, report.Outcome)
				rows := make([][]string, 0, len(report.Steps))
				for _, s := range report.Steps {
					ok := "ok"
					if !s.OK {
						ok = "failed"
					}
					rows = append(rows, []string{s.Name, ok, s.Detail, s.Duration.String()})
				}
				p.table([]string{"step", "result", "detail", "took"}, rows)
			}); err != nil {
				return err
			}
			if recoverErr != nil {
				return WrapExitError(ExitFailure, "database recovery failed", recoverErr)
			}
			return nil
		},
	})

	return cmd
}
