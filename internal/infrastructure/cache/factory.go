package cache

import (
	"fmt"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Idempotency store kinds accepted by NewIdempotencyStore
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// NewIdempotencyStore creates the configured store. client may be nil for the memory store.
func NewIdempotencyStore(kind string, client redis.Cmdable, logger *zap.Logger) (shared.IdempotencyStore, error) {
	switch kind {
	case StoreMemory, "":
		logger.Warn("using in-memory idempotency store; duplicate suppression is per process")
		return NewInMemoryIdempotencyStore(), nil
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("redis idempotency store requires a redis client")
		}
		logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, ""), nil
	default:
		return nil, fmt.Errorf("unknown idempotency store %q", kind)
	}
}
