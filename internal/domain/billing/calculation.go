package billing

import (
	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for money and token amounts
const MoneyScale int32 = 8

// CostInput holds everything the cost computation depends on
type CostInput struct {
	UsageAmount decimal.Decimal
	Quote       *pricing.PriceQuote
	// MonthToDateUsage is the user's usage of the product this month, excluding this event
	MonthToDateUsage decimal.Decimal
	// DefaultTokenRate applies when the product has no conversion rate of its own
	DefaultTokenRate decimal.Decimal
}

// Computation is the outcome of pricing a usage amount
type Computation struct {
	UnitPrice                decimal.Decimal
	CostUSD                  decimal.Decimal
	TokenEquivalent          decimal.Decimal
	IsFreeTier               bool
	IsIncludedInSubscription bool
	Status                   Status
}

// Compute prices a usage amount.
//
// Subscription-included usage costs nothing and is terminal. Usage that fits in the
// remaining monthly free quota costs nothing but still goes through settlement as a
// zero charge. Everything else costs amount x unit price, rounded half away from zero.
func Compute(in CostInput) Computation {
	c := Computation{
		UnitPrice:       in.Quote.UnitPrice,
		CostUSD:         decimal.Zero,
		TokenEquivalent: decimal.Zero,
		Status:          StatusPending,
	}

	if in.Quote.IsIncludedInSubscription {
		c.IsIncludedInSubscription = true
		c.Status = StatusSubscriptionIncluded
		return c
	}

	if fitsFreeTier(in) {
		c.IsFreeTier = true
		return c
	}

	c.CostUSD = in.UsageAmount.Mul(in.Quote.UnitPrice).Round(MoneyScale)

	rate := in.Quote.TokenConversionRate
	if !rate.IsPositive() {
		rate = in.DefaultTokenRate
	}
	c.TokenEquivalent = c.CostUSD.Mul(rate).Round(MoneyScale)
	return c
}

func fitsFreeTier(in CostInput) bool {
	quota := in.Quote.FreeTierQuota
	if !quota.IsPositive() {
		return false
	}
	return in.MonthToDateUsage.Add(in.UsageAmount).LessThanOrEqual(quota)
}
