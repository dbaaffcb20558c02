// Package collector runs the external data collector and feeds its output
// into the fact tables.
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/services/inventory"
	"github.com/storeops/storeops/internal/util"
)

// ErrStoreMismatch is returned when the collector reports another store.
var ErrStoreMismatch = errors.New("collector returned facts for another store")

// Sink receives decoded fact bundles.
type Sink interface {
	IngestBundle(ctx context.Context, b *inventory.FactBundle) (*inventory.IngestResult, error)
}

// Nop collects nothing. Phases then run on stored data.
type Nop struct{}

// Collect implements inventory.Collector.
func (Nop) Collect(context.Context, string) error { return nil }

// ExecCollector runs a command that prints one JSON fact bundle for the
// store passed as its last argument.
type ExecCollector struct {
	command []string
	timeout time.Duration
	sink    Sink
	log     logrus.FieldLogger
}

// New returns an ExecCollector for the configured command, or Nop when no
// command is configured.
func New(cfg *config.CollectorConfig, sink Sink, log logrus.FieldLogger) inventory.Collector {
	if len(cfg.Command) == 0 {
		return Nop{}
	}
	return NewExecCollector(cfg.Command, cfg.Timeout(), sink, log)
}

// NewExecCollector creates a collector running command. A zero timeout
// leaves the run bounded only by the caller's context.
func NewExecCollector(command []string, timeout time.Duration, sink Sink, log logrus.FieldLogger) *ExecCollector {
	return &ExecCollector{command: command, timeout: timeout, sink: sink, log: log}
}

// Collect runs the command for storeID and ingests what it prints. Rows the
// ingestor rejects are logged; only a failed run or an unreadable bundle is
// an error.
func (c *ExecCollector) Collect(ctx context.Context, storeID string) error {
	if len(c.command) == 0 {
		return errors.New("no collector command configured")
	}

	runID := util.NewRunID()
	log := c.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"run_id":   runID,
	})

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.command[1:]...), storeID)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("running collector: %w: %s", err, msg)
		}
		return fmt.Errorf("running collector: %w", err)
	}

	bundle, err := inventory.DecodeBundle(&stdout)
	if err != nil {
		return err
	}
	switch bundle.StoreID {
	case "":
		bundle.StoreID = storeID
	case storeID:
	default:
		return fmt.Errorf("%w: got %s, want %s", ErrStoreMismatch, bundle.StoreID, storeID)
	}

	result, err := c.sink.IngestBundle(ctx, bundle)
	if err != nil {
		return fmt.Errorf("ingesting collected facts: %w", err)
	}

	entry := log.WithFields(logrus.Fields{
		"duration":  time.Since(start).String(),
		"daily":     len(bundle.Daily),
		"receiving": len(bundle.Receiving),
		"accepted":  result.Accepted,
	})
	if err := result.Err(); err != nil {
		entry.WithError(err).Warn("collection ingested with rejected rows")
		return nil
	}
	entry.Info("collection complete")
	return nil
}
