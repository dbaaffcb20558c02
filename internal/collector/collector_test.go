package collector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/services/inventory"
)

type recordingSink struct {
	bundles []*inventory.FactBundle
	result  *inventory.IngestResult
	err     error
}

func (s *recordingSink) IngestBundle(_ context.Context, b *inventory.FactBundle) (*inventory.IngestResult, error) {
	s.bundles = append(s.bundles, b)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &inventory.IngestResult{Accepted: len(b.Daily) + len(b.Receiving)}, nil
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNew_NopWithoutCommand(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := New(&config.CollectorConfig{}, &recordingSink{}, log)

	assert.IsType(t, Nop{}, c)
	assert.NoError(t, c.Collect(context.Background(), "46513"))
}

func TestExecCollector_PassesStoreID(t *testing.T) {
	requireShell(t)
	log, _ := test.NewNullLogger()
	sink := &recordingSink{}

	script := `printf '{"store_id":"%s","daily":[{"item_cd":"A","sales_date":"2025-03-14","sale_qty":2,"stock_qty":5}]}' "$1"`
	c := NewExecCollector([]string{"sh", "-c", script, "collector"}, 5*time.Second, sink, log)

	require.NoError(t, c.Collect(context.Background(), "46513"))
	require.Len(t, sink.bundles, 1)
	assert.Equal(t, "46513", sink.bundles[0].StoreID)
	require.Len(t, sink.bundles[0].Daily, 1)
	assert.Equal(t, 5, sink.bundles[0].Daily[0].StockQty)
}

func TestExecCollector_ReadsBundleFile(t *testing.T) {
	requireShell(t)
	log, _ := test.NewNullLogger()
	sink := &recordingSink{}

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"receiving":[]}`), 0o600))

	c := NewExecCollector([]string{"sh", "-c", `cat "$0"`, path}, 5*time.Second, sink, log)
	require.NoError(t, c.Collect(context.Background(), "46513"))

	require.Len(t, sink.bundles, 1)
	assert.Equal(t, "46513", sink.bundles[0].StoreID, "a bundle without a store id inherits the requested one")
}

func TestExecCollector_Failures(t *testing.T) {
	requireShell(t)
	log, _ := test.NewNullLogger()

	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		wantErr error
		wantMsg string
	}{
		{name: "non-zero exit", script: `echo "login failed" >&2; exit 3`, wantMsg: "login failed"},
		{name: "timeout", script: `exec sleep 5`, timeout: 100 * time.Millisecond, wantErr: context.DeadlineExceeded},
		{name: "bad json", script: `echo not-json`, wantMsg: "decoding fact bundle"},
		{name: "unknown field", script: `echo '{"store_id":"46513","extra":1}'`, wantMsg: "decoding fact bundle"},
		{name: "other store", script: `echo '{"store_id":"99999"}'`, wantErr: ErrStoreMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			timeout := tt.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			c := NewExecCollector([]string{"sh", "-c", tt.script}, timeout, sink, log)

			err := c.Collect(context.Background(), "46513")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Empty(t, sink.bundles)
		})
	}
}

func TestExecCollector_SinkError(t *testing.T) {
	requireShell(t)
	log, _ := test.NewNullLogger()
	boom := errors.New("database locked")
	sink := &recordingSink{err: boom}

	c := NewExecCollector([]string{"sh", "-c", `echo '{}'`}, 5*time.Second, sink, log)
	assert.ErrorIs(t, c.Collect(context.Background(), "46513"), boom)
}

func TestExecCollector_RejectedRowsOnlyWarn(t *testing.T) {
	requireShell(t)
	log, hook := test.NewNullLogger()
	sink := &recordingSink{result: &inventory.IngestResult{
		Rejected: []inventory.RowError{{Index: 0, ItemCD: "A", Err: errors.New("invalid")}},
	}}

	c := NewExecCollector([]string{"sh", "-c", `echo '{}'`}, 5*time.Second, sink, log)
	require.NoError(t, c.Collect(context.Background(), "46513"))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
