package billing

import (
	"context"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Filter narrows billing record listings
type Filter struct {
	shared.Filter
	UserID string
	Status Status
}

// Repository persists billing records
type Repository interface {
	// Create inserts the record unless one exists for its usage event. created is false
	// when another delivery won the race.
	Create(ctx context.Context, record *BillingRecord) (created bool, err error)

	FindByID(ctx context.Context, id uuid.UUID) (*BillingRecord, error)

	// FindByUsageEventID returns shared.ErrNotFound when the usage event was not billed yet
	FindByUsageEventID(ctx context.Context, usageEventID uuid.UUID) (*BillingRecord, error)

	FindAll(ctx context.Context, filter Filter) ([]*BillingRecord, int64, error)

	// UpdateSettlement persists the status, wallet transaction link and failure reason
	UpdateSettlement(ctx context.Context, record *BillingRecord) error

	// SumUsage totals usage_amount for a user and product over [from, to)
	SumUsage(ctx context.Context, userID, productID string, from, to time.Time) (decimal.Decimal, error)

	// FindPendingBefore returns records still pending that were created before the cutoff
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]*BillingRecord, error)
}
