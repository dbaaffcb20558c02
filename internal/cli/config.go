package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storeops/storeops/internal/config"
)

func newConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file that would be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath(opts.ConfigPath)
			_, err := os.Stat(path)
			out := &printer{format: opts.Format, w: cmd.OutOrStdout()}
			return out.emit(map[string]any{"path": path, "exists": err == nil}, func(p *printer) {
				if err != nil {
					p.line("%s (not found, defaults apply)", path)
					return
				}
				p.line("%s", path)
			})
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath(opts.ConfigPath)
			if _, err := os.Stat(path); err == nil && !force {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists (use --force to overwrite)", path))
			}
			if err := config.Save(config.Default(), path); err != nil {
				return fmt.Errorf("writing configuration: %w", err)
			}
			out := &printer{format: opts.Format, w: cmd.OutOrStdout()}
			return out.emit(map[string]any{"path": path}, func(p *printer) {
				p.title("Configuration written")
				p.line("%s", path)
			})
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}
