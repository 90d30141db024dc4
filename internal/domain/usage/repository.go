package usage

import (
	"context"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Repository persists usage events
type Repository interface {
	// Create inserts the event unless its id already exists. created is false for a duplicate.
	Create(ctx context.Context, event *UsageEvent) (created bool, err error)

	// FindByID returns shared.ErrNotFound when the event does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*UsageEvent, error)

	// FindByUser lists a user's usage events, newest first by default
	FindByUser(ctx context.Context, userID string, filter shared.Filter) ([]*UsageEvent, int64, error)

	// FindRecordedBefore returns up to limit events recorded before the cutoff, oldest first
	FindRecordedBefore(ctx context.Context, before time.Time, limit int) ([]*UsageEvent, error)

	// DeleteByIDs removes archived events
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}
