// Package lock provides per-wallet mutual exclusion for settlement. The database row
// lock taken during a debit is always authoritative; these lockers only reduce
// contention before the transaction starts.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lock drivers accepted by New
const (
	DriverNone  = "none"
	DriverLocal = "local"
	DriverRedis = "redis"
)

// ErrNotAcquired is returned when a lock could not be obtained before giving up
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock
type Unlock func(ctx context.Context) error

// Locker acquires a named lock
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Recorder receives lock acquisition outcomes
type Recorder interface {
	LockAcquired(ok bool, waited time.Duration)
}

// Options configure New
type Options struct {
	Driver   string
	TTL      time.Duration
	Retries  int
	Client   redis.UniversalClient
	Recorder Recorder
	Logger   *zap.Logger
}

// New builds the locker for the configured driver
func New(opts Options) (Locker, error) {
	var l Locker
	switch opts.Driver {
	case DriverNone, "":
		return NoopLocker{}, nil
	case DriverLocal:
		l = NewLocalLocker()
	case DriverRedis:
		if opts.Client == nil {
			return nil, fmt.Errorf("redis lock driver requires a redis client")
		}
		l = NewRedisLocker(opts.Client, opts.TTL, opts.Retries)
	default:
		return nil, fmt.Errorf("unknown lock driver %q", opts.Driver)
	}
	if opts.Recorder != nil {
		l = &instrumented{next: l, recorder: opts.Recorder, logger: opts.Logger}
	}
	return l, nil
}

// WalletKey is the lock name for a user's wallet
func WalletKey(userID string) string {
	return "billflow:lock:wallet:" + userID
}

// NoopLocker never blocks
type NoopLocker struct{}

// Lock returns immediately
func (NoopLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

type instrumented struct {
	next     Locker
	recorder Recorder
	logger   *zap.Logger
}

func (i *instrumented) Lock(ctx context.Context, key string) (Unlock, error) {
	start := time.Now()
	unlock, err := i.next.Lock(ctx, key)
	i.recorder.LockAcquired(err == nil, time.Since(start))
	if err != nil && i.logger != nil {
		i.logger.Warn("failed to acquire lock", zap.String("key", key), zap.Error(err))
	}
	return unlock, err
}
