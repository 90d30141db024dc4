package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned for unknown or inactive products. It is permanent.
var ErrProductNotFound = shared.NewDomainError("PRODUCT_NOT_FOUND", "Product not found")

// NewProductNotFoundError returns ErrProductNotFound naming the product
func NewProductNotFoundError(productID string) error {
	return shared.NewDomainError(ErrProductNotFound.Code, fmt.Sprintf("product %q not found", productID))
}

// PriceRequest identifies what is being priced and for whom
type PriceRequest struct {
	ProductID string
	UserID    string
	// SubscriptionID is optional; when nil the user's active subscriptions are consulted
	SubscriptionID *uuid.UUID
	At             time.Time
}

// PriceQuote is the resolved price for one product and user
type PriceQuote struct {
	ProductID                string          `json:"product_id"`
	UnitType                 usage.UnitType  `json:"unit_type"`
	UnitPrice                decimal.Decimal `json:"unit_price"`
	Currency                 string          `json:"currency"`
	IsIncludedInSubscription bool            `json:"is_included_in_subscription"`
	SubscriptionID           *uuid.UUID      `json:"subscription_id,omitempty"`
	TokenConversionRate      decimal.Decimal `json:"token_conversion_rate"`
	FreeTierQuota            decimal.Decimal `json:"free_tier_quota"`
}

// Resolver answers price lookups. Implementations return ErrProductNotFound for
// unknown products and a transient error when the backing store is unreachable.
type Resolver interface {
	GetPrice(ctx context.Context, req PriceRequest) (*PriceQuote, error)
}

// Quote builds a price quote from a product and the subscriptions that may cover it
func Quote(product *Product, subscriptions []*Subscription, at time.Time) *PriceQuote {
	currency := product.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	q := &PriceQuote{
		ProductID:           product.ID,
		UnitType:            product.UnitType,
		UnitPrice:           product.UnitPrice,
		Currency:            currency,
		TokenConversionRate: product.TokenConversionRate,
		FreeTierQuota:       product.FreeTierQuota,
	}
	for _, s := range subscriptions {
		if s != nil && s.Covers(product.ID, at) {
			id := s.ID
			q.IsIncludedInSubscription = true
			q.SubscriptionID = &id
			break
		}
	}
	return q
}
