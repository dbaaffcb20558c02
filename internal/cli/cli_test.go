package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/scheduler"
	"github.com/storeops/storeops/internal/util"
)

func writeConfig(t *testing.T, stores ...string) string {
	t.Helper()
	dir := t.TempDir()

	quoted := make([]string, len(stores))
	for i, s := range stores {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	content := fmt.Sprintf(`[chain]
name = "test"
stores = [%s]
timezone = "UTC"

[workers]
max_concurrency = 2
stagger_seconds = 0

[logging]
level = "error"
file = ""

[database]
path = %q
backup_interval_hours = 0
`, strings.Join(quoted, ", "), filepath.Join(dir, "storeops.db"))

	path := filepath.Join(dir, "storeops.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (json.RawMessage, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", cfgPath, "--format", "json"}, args...))

	err := root.ExecuteContext(context.Background())
	if out.Len() == 0 {
		return nil, err
	}

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	assert.Equal(t, "ok", resp.Status)
	return resp.Data, err
}

func TestConfigInitAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storeops.toml")

	data, err := execute(t, path, "config", "path")
	require.NoError(t, err)
	var before struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	}
	require.NoError(t, json.Unmarshal(data, &before))
	assert.Equal(t, path, before.Path)
	assert.False(t, before.Exists)

	_, err = execute(t, path, "config", "init")
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = execute(t, path, "config", "init")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, path, "config", "init", "--force")
	require.NoError(t, err)

	cfg, _, err := config.Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Chain.Name, cfg.Chain.Name)
}

func TestMigrateUpAndStatus(t *testing.T) {
	cfg := writeConfig(t, "46513")

	_, err := execute(t, cfg, "migrate", "up")
	require.NoError(t, err)

	data, err := execute(t, cfg, "migrate", "status")
	require.NoError(t, err)

	var migs []migrationView
	require.NoError(t, json.Unmarshal(data, &migs))
	require.NotEmpty(t, migs)
	for _, m := range migs {
		assert.True(t, m.Applied, "migration %d", m.Version)
	}
}

func TestIngestThenListBatches(t *testing.T) {
	cfg := writeConfig(t, "46513")
	bundle := writeFile(t, "bundle.json", `{
		"store_id": "46513",
		"receiving": [
			{"slip_id": "S1", "item_cd": "8801", "item_nm": "bread", "mid_cd": "012",
			 "order_date": "2025-03-13", "receiving_date": "2025-03-14", "order_qty": 6, "receiving_qty": 6}
		],
		"daily": [
			{"item_cd": "8801", "sales_date": "2025-03-14", "sale_qty": 2, "stock_qty": 4}
		]
	}`)

	data, err := execute(t, cfg, "ingest", bundle)
	require.NoError(t, err)

	var res struct {
		Accepted       int
		BatchesCreated int
		UnitsConsumed  int
	}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.BatchesCreated)
	assert.Equal(t, 2, res.UnitsConsumed)

	data, err = execute(t, cfg, "batches", "list", "--item", "8801")
	require.NoError(t, err)

	var batches []struct {
		ItemCD       string
		InitialQty   int
		RemainingQty int
	}
	require.NoError(t, json.Unmarshal(data, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, 6, batches[0].InitialQty)
	assert.Equal(t, 4, batches[0].RemainingQty)
}

func TestIngestRejectedRowsExitNonZero(t *testing.T) {
	cfg := writeConfig(t, "46513")
	bundle := writeFile(t, "bundle.json", `{
		"store_id": "46513",
		"daily": [
			{"item_cd": "8801", "sales_date": "2025-03-14", "sale_qty": 1, "stock_qty": 4},
			{"item_cd": "8802", "sales_date": "not-a-date", "sale_qty": 1, "stock_qty": 4}
		]
	}`)

	data, err := execute(t, cfg, "ingest", bundle)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, string(data), `"item_cd": "8802"`)
}

func TestExpiryJudgeRunsEveryStore(t *testing.T) {
	cfg := writeConfig(t, "46513", "46514")

	data, err := execute(t, cfg, "expiry", "judge", "--hour", "2", "--date", "2025-03-15")
	require.NoError(t, err)

	var outputs []struct {
		StoreID string `json:"store_id"`
		Result  struct {
			EventID string
			Batches int
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &outputs))
	require.Len(t, outputs, 2)
	assert.Equal(t, "46513", outputs[0].StoreID)
	assert.Equal(t, util.ExpiryEventID("46513", time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), 2), outputs[0].Result.EventID)
	assert.Equal(t, "46514", outputs[1].StoreID)
	assert.Zero(t, outputs[1].Result.Batches)
}

func TestRecordDecisionsThenDiff(t *testing.T) {
	cfg := writeConfig(t, "46513")
	decisions := writeFile(t, "decisions.json", `[
		{"item_cd": "8801", "item_nm": "bread", "recommended_qty": 3, "final_order_qty": 3}
	]`)

	data, err := execute(t, cfg, "snapshots", "record", decisions, "--date", "2025-03-14")
	require.NoError(t, err)
	var bulk struct{ Written int }
	require.NoError(t, json.Unmarshal(data, &bulk))
	assert.Equal(t, 1, bulk.Written)

	data, err = execute(t, cfg, "snapshots", "list", "--date", "2025-03-14")
	require.NoError(t, err)
	var snaps []struct {
		ItemCD        string
		FinalOrderQty int
		Source        string
	}
	require.NoError(t, json.Unmarshal(data, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].FinalOrderQty)
	assert.Equal(t, "live", snaps[0].Source)

	data, err = execute(t, cfg, "diff", "--date", "2025-03-14")
	require.NoError(t, err)
	var outputs []struct {
		Result struct {
			Summary struct {
				OrderDate        string
				HasReceivingData bool
			}
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &outputs))
	require.Len(t, outputs, 1)
	assert.Equal(t, "2025-03-14", outputs[0].Result.Summary.OrderDate)
	assert.False(t, outputs[0].Result.Summary.HasReceivingData)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		stores []string
		args   []string
	}{
		{name: "invalid hour", stores: []string{"46513"}, args: []string{"expiry", "judge", "--hour", "25"}},
		{name: "invalid format", stores: []string{"46513"}, args: []string{"--format", "xml", "reconcile"}},
		{name: "no stores", args: []string{"reconcile"}},
		{name: "invalid date", stores: []string{"46513"}, args: []string{"diff", "--date", "14/03/2025"}},
		{name: "single store required", stores: []string{"46513", "46514"}, args: []string{"batches", "list", "--item", "8801"}},
		{name: "reversed range", stores: []string{"46513"}, args: []string{"feedback", "--from", "2025-03-14", "--to", "2025-03-01"}},
		{name: "range too long", stores: []string{"46513"}, args: []string{"backfill", "--from", "2024-01-01", "--to", "2025-03-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, writeConfig(t, tt.stores...), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestNearestEventDate(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{name: "pre-collect for midnight runs the evening before", now: time.Date(2025, 3, 14, 23, 50, 0, 0, time.UTC), hour: 0, want: day(15)},
		{name: "confirm after midnight", now: time.Date(2025, 3, 15, 0, 10, 0, 0, time.UTC), hour: 0, want: day(15)},
		{name: "judge on the hour", now: time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC), hour: 2, want: day(15)},
		{name: "pre-collect for afternoon", now: time.Date(2025, 3, 15, 13, 50, 0, 0, time.UTC), hour: 14, want: day(15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nearestEventDate(tt.now, tt.hour, time.UTC)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad flag"))))
}

func TestForStores_SkipsHeldLocksAndIsolatesFailures(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	cfg := config.Default()
	cfg.Workers.StaggerSeconds = 0

	locker := scheduler.NewLocalLocker(util.NewFixedClock(time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC)))
	a := &app{
		env:    &env{cfg: cfg, log: log},
		op:     "storeops expiry judge",
		locker: locker,
		pool:   scheduler.NewPool(&cfg.Workers, log),
	}

	ctx := context.Background()
	held, err := locker.Obtain(ctx, "job:held", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	boom := errors.New("collector down")
	outputs, err := a.forStores(ctx, []string{"held", "ok", "bad"},
		func(storeID string) string { return "job:" + storeID },
		func(_ context.Context, storeID string) (any, error) {
			if storeID == "bad" {
				return nil, boom
			}
			return "done " + storeID, nil
		})

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, boom)

	require.Len(t, outputs, 3)
	assert.Equal(t, "lock held by another run", outputs[0].Note)
	assert.Nil(t, outputs[0].Result)
	assert.Equal(t, "done ok", outputs[1].Result)
	assert.Empty(t, outputs[1].Error)
	assert.Contains(t, outputs[2].Error, "collector down")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "storeops expiry judge", entry.Data["op"])
	assert.Equal(t, "bad", entry.Data["store_id"])
}
