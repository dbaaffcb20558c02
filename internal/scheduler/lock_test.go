package scheduler

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/util"
)

var lockStart = time.Date(2025, 3, 15, 1, 50, 0, 0, time.UTC)

func TestPhaseKey(t *testing.T) {
	assert.Equal(t, "expiry:46513:02", PhaseKey("46513", 2))
	assert.Equal(t, "expiry:46513:14", PhaseKey("46513", 14))
	assert.Equal(t, "sweep:46513", StoreKey("sweep", "46513"))
}

func TestLocalLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker(util.NewFixedClock(lockStart))

	lock, err := locker.Obtain(ctx, "expiry:1:02", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "expiry:1:02", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Obtain(ctx, "expiry:1:14", time.Minute)
	require.NoError(t, err, "distinct keys never contend")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	again, err := locker.Obtain(ctx, "expiry:1:02", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := util.NewFixedClock(lockStart)
	locker := NewLocalLocker(clock)

	stale, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	fresh, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err, "an expired lock can be taken over")

	assert.ErrorIs(t, stale.Release(ctx), ErrLockNotHeld)
	require.NoError(t, fresh.Release(ctx), "the stale release must not drop the new holder")
	assert.ErrorIs(t, fresh.Release(ctx), ErrLockNotHeld)
}

func TestLocalLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLocker(util.NewFixedClock(lockStart)).Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	locker := NewLocalLocker(util.NewFixedClock(lockStart))

	var inner error
	err := WithLock(ctx, locker, "k", time.Minute, log, func(ctx context.Context) error {
		_, inner = locker.Obtain(ctx, "k", time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrLockHeld, "the key is held while fn runs")

	lock, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err, "the key is released afterwards")
	require.NoError(t, lock.Release(ctx))

	boom := errors.New("boom")
	err = WithLock(ctx, locker, "k", time.Minute, log, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	held, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)
	err = WithLock(ctx, locker, "k", time.Minute, log, func(context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, held.Release(ctx))
}

func TestNewLocker_LocalWithoutRedis(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := config.Default().Lock

	locker, closeFn, err := NewLocker(context.Background(), &cfg, log)
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &LocalLocker{}, locker)
}

// Runs against a real server when STOREOPS_TEST_REDIS names one.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("STOREOPS_TEST_REDIS")
	if addr == "" {
		t.Skip("STOREOPS_TEST_REDIS not set")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(ctx).Err())

	locker := NewRedisLocker(rdb)
	key := "storeops:test:" + util.NewRunID()

	lock, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
}
