// storeops runs the batch, expiry and order diff jobs for a store chain.
// Every command is meant to be invoked by an external scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/storeops/storeops/internal/cli"
)

// Build information (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "storeops:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
