// Package pricing resolves what a unit of a product costs a given user.
package pricing

import (
	"strings"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a product has no currency configured
const DefaultCurrency = "USD"

// Product is a billable product with its current list price
type Product struct {
	ID                  string
	Name                string
	UnitType            usage.UnitType
	UnitPrice           decimal.Decimal
	Currency            string
	TokenConversionRate decimal.Decimal // zero means "use the configured default"
	FreeTierQuota       decimal.Decimal // per user per calendar month, in product units
	Active              bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewProduct creates an active product
func NewProduct(id, name string, unitType usage.UnitType, unitPrice decimal.Decimal) (*Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, shared.NewValidationError("product id cannot be empty")
	}
	if !unitType.IsValid() {
		return nil, shared.NewValidationError("unsupported unit type")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewValidationError("unit price cannot be negative")
	}
	now := time.Now().UTC()
	return &Product{
		ID:        id,
		Name:      name,
		UnitType:  unitType,
		UnitPrice: unitPrice,
		Currency:  DefaultCurrency,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// WithTokenConversionRate sets the USD to token conversion rate
func (p *Product) WithTokenConversionRate(rate decimal.Decimal) *Product {
	p.TokenConversionRate = rate
	return p
}

// WithFreeTierQuota sets the monthly free quota
func (p *Product) WithFreeTierQuota(quota decimal.Decimal) *Product {
	p.FreeTierQuota = quota
	return p
}

// HasFreeTier returns true if the product grants a monthly free quota
func (p *Product) HasFreeTier() bool {
	return p.FreeTierQuota.IsPositive()
}
