package billing

import (
	"time"

	"github.com/billflow/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingRecordResponse is the read model of a billing record
type BillingRecordResponse struct {
	ID                       uuid.UUID       `json:"id"`
	UsageEventID             *uuid.UUID      `json:"usage_event_id,omitempty"`
	UserID                   string          `json:"user_id"`
	ProductID                string          `json:"product_id"`
	UsageAmount              decimal.Decimal `json:"usage_amount"`
	UnitType                 string          `json:"unit_type"`
	UnitPrice                decimal.Decimal `json:"unit_price"`
	Currency                 string          `json:"currency"`
	CostUSD                  decimal.Decimal `json:"cost_usd"`
	TokenEquivalent          decimal.Decimal `json:"token_equivalent"`
	IsFreeTier               bool            `json:"is_free_tier"`
	IsIncludedInSubscription bool            `json:"is_included_in_subscription"`
	Status                   string          `json:"billing_status"`
	WalletTransactionID      *uuid.UUID      `json:"wallet_transaction_id,omitempty"`
	FailureReason            string          `json:"failure_reason,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// ToBillingRecordResponse converts a domain record to its read model
func ToBillingRecordResponse(r *billing.BillingRecord) BillingRecordResponse {
	return BillingRecordResponse{
		ID:                       r.ID,
		UsageEventID:             r.UsageEventID,
		UserID:                   r.UserID,
		ProductID:                r.ProductID,
		UsageAmount:              r.UsageAmount,
		UnitType:                 string(r.UnitType),
		UnitPrice:                r.UnitPrice,
		Currency:                 r.Currency,
		CostUSD:                  r.CostUSD,
		TokenEquivalent:          r.TokenEquivalent,
		IsFreeTier:               r.IsFreeTier,
		IsIncludedInSubscription: r.IsIncludedInSubscription,
		Status:                   r.Status.String(),
		WalletTransactionID:      r.WalletTransactionID,
		FailureReason:            r.FailureReason,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
}
