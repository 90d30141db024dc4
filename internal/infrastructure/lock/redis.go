package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisLocker coordinates settlement across instances with redsync
type RedisLocker struct {
	rs      *redsync.Redsync
	ttl     time.Duration
	retries int
}

// NewRedisLocker creates a locker on client. ttl bounds how long a crashed holder
// keeps the lock.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, retries int) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retries <= 0 {
		retries = 32
	}
	return &RedisLocker{
		rs:      redsync.New(goredis.NewPool(client)),
		ttl:     ttl,
		retries: retries,
	}
}

// Lock acquires the mutex for key
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(l.retries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	}
	return func(ctx context.Context) error {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			return fmt.Errorf("failed to release lock %s: %v", key, err)
		}
		return nil
	}, nil
}
