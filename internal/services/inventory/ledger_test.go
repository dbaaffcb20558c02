package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/testutil"
)

const testItem = "8801043015004"

func newTestLedger(t *testing.T) (*Ledger, *testutil.TestDB, *test.Hook) {
	t.Helper()
	db := testutil.NewMigratedDB(t)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	table := NewExpiryTable(&config.Default().Expiry)
	return NewLedger(db.DB, table, time.UTC, log), db, hook
}

func receipt(item string, daysBeforeFixture, qty int) CreateBatchInput {
	return CreateBatchInput{
		StoreID:       testutil.FixtureStoreID,
		ItemCD:        item,
		ItemNM:        "Tuna mayo rice ball",
		MidCD:         "002",
		DeliveryType:  "1",
		ReceivingDate: testutil.FixtureDay.AddDate(0, 0, -daysBeforeFixture),
		Qty:           qty,
	}
}

func mustCreate(t *testing.T, l *Ledger, in CreateBatchInput) *models.InventoryBatch {
	t.Helper()
	b, created, err := l.CreateBatch(context.Background(), in)
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func TestExpiryTableLookup(t *testing.T) {
	table := NewExpiryTable(&config.Default().Expiry)

	tests := []struct {
		name     string
		midCD    string
		delivery string
		days     int
		hour     int
	}{
		{"delivery override", "002", "2", 1, 14},
		{"category hour", "012", "1", 3, 0},
		{"first delivery", "004", "1", 2, 22},
		{"unknown category", "999", "1", 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, hour := table.Lookup(tt.midCD, tt.delivery)
			assert.Equal(t, tt.days, days)
			assert.Equal(t, tt.hour, hour)
		})
	}
}

func TestLedger_CreateBatch(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	in := receipt(testItem, 0, 10)
	in.DeliveryType = "2"
	b := mustCreate(t, l, in)

	assert.Equal(t, 1, b.ExpirationDays)
	assert.Equal(t, 14, b.ExpiryHour)
	assert.Equal(t, time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC), b.ExpiresAt)
	assert.Equal(t, models.BatchStatusActive, b.Status)
	assert.Equal(t, 10, b.RemainingQty)

	t.Run("explicit expiry wins", func(t *testing.T) {
		hour := 9
		in := receipt("8801043015011", 0, 3)
		in.ExpirationDays = 4
		in.ExpiryHour = &hour
		b := mustCreate(t, l, in)
		assert.Equal(t, time.Date(2025, 3, 18, 9, 0, 0, 0, time.UTC), b.ExpiresAt)
	})

	t.Run("duplicate receipt returns existing", func(t *testing.T) {
		dup := receipt(testItem, 0, 99)
		got, created, err := l.CreateBatch(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, b.ID, got.ID)
		assert.Equal(t, 10, got.InitialQty)
	})

	t.Run("non-positive quantity rejected", func(t *testing.T) {
		_, _, err := l.CreateBatch(ctx, receipt(testItem, 3, 0))
		assert.ErrorIs(t, err, models.ErrInvalidBatch)
	})
}

func TestLedger_ConsumeFIFO(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	older := mustCreate(t, l, receipt(testItem, 1, 5))
	newer := mustCreate(t, l, receipt(testItem, 0, 5))

	consumed, err := l.ConsumeFIFO(ctx, testutil.FixtureStoreID, testItem, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, consumed)

	active, err := l.GetActive(ctx, testutil.FixtureStoreID, testItem)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, 3, active[0].RemainingQty)

	b, err := l.batches.GetByID(ctx, nil, older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusConsumed, b.Status)
	assert.Zero(t, b.RemainingQty)

	t.Run("stops when batches run out", func(t *testing.T) {
		consumed, err := l.ConsumeFIFO(ctx, testutil.FixtureStoreID, testItem, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, consumed)

		active, err := l.GetActive(ctx, testutil.FixtureStoreID, testItem)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("zero is a no-op", func(t *testing.T) {
		consumed, err := l.ConsumeFIFO(ctx, testutil.FixtureStoreID, testItem, 0)
		require.NoError(t, err)
		assert.Zero(t, consumed)
	})
}

func TestLedger_SyncWithStock(t *testing.T) {
	t.Run("zero stock consumes every batch", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		ctx := context.Background()
		mustCreate(t, l, receipt(testItem, 1, 2))
		mustCreate(t, l, receipt(testItem, 0, 3))

		res, err := l.SyncWithStock(ctx, testutil.FixtureStoreID, testItem, 0)
		require.NoError(t, err)
		assert.Equal(t, 5, res.BatchTotal)
		assert.Equal(t, 5, res.Consumed)
		assert.False(t, res.Anomaly)

		active, err := l.GetActive(ctx, testutil.FixtureStoreID, testItem)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("partial drift trims oldest", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		ctx := context.Background()
		mustCreate(t, l, receipt(testItem, 1, 4))
		newer := mustCreate(t, l, receipt(testItem, 0, 6))

		res, err := l.SyncWithStock(ctx, testutil.FixtureStoreID, testItem, 6)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Consumed)

		active, err := l.GetActive(ctx, testutil.FixtureStoreID, testItem)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, newer.ID, active[0].ID)

		again, err := l.SyncWithStock(ctx, testutil.FixtureStoreID, testItem, 6)
		require.NoError(t, err)
		assert.Zero(t, again.Consumed, "reconciliation is idempotent")
	})

	t.Run("stock above batches is only logged", func(t *testing.T) {
		l, db, hook := newTestLedger(t)
		ctx := context.Background()
		mustCreate(t, l, receipt(testItem, 0, 3))

		res, err := l.SyncWithStock(ctx, testutil.FixtureStoreID, testItem, 5)
		require.NoError(t, err)
		assert.True(t, res.Anomaly)
		assert.Zero(t, res.Consumed)
		db.AssertRowCount(t, "inventory_batches", 1)

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "stock_exceeds_batches", entry.Data["anomaly"])
	})
}

func TestLedger_GetExpiringSoon(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	soon := mustCreate(t, l, receipt(testItem, 0, 5))
	bread := receipt("8801234000012", 0, 5)
	bread.MidCD = "012"
	later := mustCreate(t, l, bread)

	got, err := l.GetExpiringSoon(ctx, testutil.FixtureStoreID, 1, testutil.FixtureDay.Add(10*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, soon.ID, got[0].ID)

	got, err = l.GetExpiringSoon(ctx, testutil.FixtureStoreID, 3, testutil.FixtureDay)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, later.ID, got[1].ID)
}

func TestLedger_ListIncludesTerminal(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	mustCreate(t, l, receipt(testItem, 2, 3))
	mustCreate(t, l, receipt(testItem, 1, 3))
	mustCreate(t, l, receipt(testItem, 0, 3))
	_, err := l.ConsumeFIFO(ctx, testutil.FixtureStoreID, testItem, 3)
	require.NoError(t, err)

	all, err := l.List(ctx, models.BatchFilter{StoreID: testutil.FixtureStoreID}, models.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.TotalPages)
	require.Len(t, all.Batches, 2)
	assert.Equal(t, models.BatchStatusConsumed, all.Batches[0].Status)

	consumed := models.BatchStatusConsumed
	done, err := l.List(ctx, models.BatchFilter{StoreID: testutil.FixtureStoreID, Status: &consumed}, models.DefaultPagination())
	require.NoError(t, err)
	assert.Equal(t, 1, done.Total)
}

func TestReconcileAmount(t *testing.T) {
	tests := []struct {
		total, stock, want int
	}{
		{10, 6, 4},
		{5, 5, 0},
		{3, 8, 0},
		{0, 0, 0},
		{7, 0, 7},
	}
	for _, tt := range tests {
		got := ReconcileAmount(tt.total, tt.stock)
		assert.Equal(t, tt.want, got, "ReconcileAmount(%d, %d)", tt.total, tt.stock)
		assert.GreaterOrEqual(t, got, 0)
		assert.Equal(t, 0, ReconcileAmount(tt.total-got, tt.stock), "applying the amount twice changes nothing")
	}
}
