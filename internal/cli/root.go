// Package cli implements the storeops command line. Each command is one
// scheduler entry point: it loads configuration, opens the database and
// runs a job across the selected stores.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	Stores     []string

	// Instance holds the scheduler instance lock for the whole command.
	Instance bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storeops",
		Short: "Batch, expiry and order diff automation for store chains",
		Long: `storeops keeps per-store FIFO inventory batches in line with collected
stock, confirms hourly expiry events in three phases and compares automated
orders with what stores actually confirmed and received.

Commands are meant to be run by an external scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringSliceVar(&opts.Stores, "store", nil, "store id (repeatable; default all configured stores)")
	cmd.PersistentFlags().BoolVar(&opts.Instance, "instance", false, "hold the scheduler instance lock while running")

	cmd.AddCommand(newExpiryCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newBatchesCommand(opts))
	cmd.AddCommand(newDiffCommand(opts))
	cmd.AddCommand(newBackfillCommand(opts))
	cmd.AddCommand(newFeedbackCommand(opts))
	cmd.AddCommand(newSnapshotsCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newDBCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}
