// Package scheduler provides the locks and the bounded store worker pool
// the scheduled commands run under.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"
	"github.com/storeops/storeops/internal/util"
)

var (
	// ErrLockHeld is returned when another run holds the lock.
	ErrLockHeld = errors.New("lock held by another run")

	// ErrLockNotHeld is returned when releasing a lock that expired or was
	// never obtained.
	ErrLockNotHeld = errors.New("lock not held")
)

// Lock is an obtained lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// PhaseKey is the lock serializing one store's expiry phases for an hour.
func PhaseKey(storeID string, hour int) string {
	return fmt.Sprintf("expiry:%s:%02d", storeID, hour)
}

// StoreKey is the lock serializing a whole-store job such as a sweep.
func StoreKey(job, storeID string) string {
	return fmt.Sprintf("%s:%s", job, storeID)
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, log logrus.FieldLogger, fn func(ctx context.Context) error) error {
	lock, err := locker.Obtain(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("obtaining %s: %w", key, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithField("lock", key).WithError(err).Warn("failed to release lock")
		}
	}()
	return fn(ctx)
}

// NewLocker returns a redis-backed locker when an address is configured and
// an in-process one otherwise. The returned close function releases the
// redis connection.
func NewLocker(ctx context.Context, cfg *config.LockConfig, log logrus.FieldLogger) (Locker, func() error, error) {
	if cfg.RedisAddr == "" {
		log.Debug("no redis configured, using in-process locks")
		return NewLocalLocker(util.SystemClock{}), func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}

	log.WithField("addr", cfg.RedisAddr).Debug("using redis locks")
	return NewRedisLocker(rdb), rdb.Close, nil
}

// RedisLocker holds locks in redis so they span processes and hosts.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker creates a locker on an existing redis client.
func NewRedisLocker(rdb redis.Scripter) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Obtain tries once to take key.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return ErrLockNotHeld
	}
	return err
}

// LocalLocker holds locks in process memory.
type LocalLocker struct {
	mu    sync.Mutex
	clock util.Clock
	held  map[string]localEntry
	seq   uint64
}

type localEntry struct {
	token   uint64
	expires time.Time
}

// NewLocalLocker creates an in-process locker reading time from clock.
func NewLocalLocker(clock util.Clock) *LocalLocker {
	return &LocalLocker{clock: clock, held: make(map[string]localEntry)}
}

// Obtain takes key unless an unexpired holder exists.
func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLockHeld
	}

	l.seq++
	l.held[key] = localEntry{token: l.seq, expires: now.Add(ttl)}
	return &localLock{locker: l, key: key, token: l.seq}, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
	token  uint64
}

func (l *localLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	e, ok := l.locker.held[l.key]
	if !ok || e.token != l.token || !l.locker.clock.Now().Before(e.expires) {
		return ErrLockNotHeld
	}
	delete(l.locker.held, l.key)
	return nil
}
