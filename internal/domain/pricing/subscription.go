package pricing

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription is a pre-paid plan covering usage of its included products
type Subscription struct {
	ID                 uuid.UUID
	UserID             string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	IncludedProducts   []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActiveAt returns true if the subscription is active and t falls in its current period
func (s *Subscription) IsActiveAt(t time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	return !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}

// Includes returns true if usage of productID is covered by the plan
func (s *Subscription) Includes(productID string) bool {
	return slices.Contains(s.IncludedProducts, productID)
}

// Covers combines the period, status and product checks
func (s *Subscription) Covers(productID string, at time.Time) bool {
	return s.IsActiveAt(at) && s.Includes(productID)
}
