package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStore is the consumer-side fast path for redelivered events. It only
// short-circuits duplicates; the unique keys in storage remain the guarantee.
type IdempotencyStore interface {
	// MarkProcessed claims key for ttl. It reports false when key was already claimed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release drops a claim so the next delivery is processed
	Release(ctx context.Context, key string) error
	Close() error
}

// IdempotencyConfig controls the fast path
type IdempotencyConfig struct {
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig remembers events for a day
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: 24 * time.Hour, Enabled: true}
}

// IdempotencyKey scopes an event id to one consumer, so the calculator and the
// settler never shadow each other's claims
func IdempotencyKey(consumer string, eventID uuid.UUID) string {
	return consumer + ":" + eventID.String()
}
