package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProductRepository persists products
type ProductRepository interface {
	// FindByID returns shared.ErrNotFound when the product does not exist
	FindByID(ctx context.Context, id string) (*Product, error)
	Save(ctx context.Context, product *Product) error
}

// SubscriptionRepository persists subscriptions
type SubscriptionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// FindActiveByUser returns active subscriptions whose period contains at
	FindActiveByUser(ctx context.Context, userID string, at time.Time) ([]*Subscription, error)
	Save(ctx context.Context, sub *Subscription) error
}
