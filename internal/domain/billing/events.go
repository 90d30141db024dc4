package billing

import (
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published by the billing calculator
const (
	EventTypeBillingCalculated = "billing.calculated"
	EventTypeBillingError      = "billing.error"
)

// Error codes carried by billing.error
const (
	ErrorCodeValidation      = "VALIDATION_ERROR"
	ErrorCodeProductNotFound = "PRODUCT_NOT_FOUND"
	ErrorCodeTransientIO     = "TRANSIENT_IO"
	ErrorCodeTimeout         = "TIMEOUT"
	ErrorCodeInternal        = "INTERNAL_ERROR"
)

// BillingCalculatedEvent carries the full billing record
type BillingCalculatedEvent struct {
	shared.BaseDomainEvent
	BillingRecordID          uuid.UUID       `json:"billing_record_id"`
	UsageEventID             *uuid.UUID      `json:"usage_event_id,omitempty"`
	UserID                   string          `json:"user_id"`
	ProductID                string          `json:"product_id"`
	UsageAmount              decimal.Decimal `json:"usage_amount"`
	UnitType                 usage.UnitType  `json:"unit_type"`
	UnitPrice                decimal.Decimal `json:"unit_price"`
	Currency                 string          `json:"currency"`
	CostUSD                  decimal.Decimal `json:"cost_usd"`
	TokenEquivalent          decimal.Decimal `json:"token_equivalent"`
	IsFreeTier               bool            `json:"is_free_tier"`
	IsIncludedInSubscription bool            `json:"is_included_in_subscription"`
	BillingStatus            Status          `json:"billing_status"`
	CreatedAt                time.Time       `json:"created_at"`
}

// EventType returns the event type name
func (e *BillingCalculatedEvent) EventType() string {
	return EventTypeBillingCalculated
}

// NewBillingCalculatedEvent creates a BillingCalculatedEvent for a record
func NewBillingCalculatedEvent(r *BillingRecord) *BillingCalculatedEvent {
	return &BillingCalculatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEventWithID(
			shared.DeriveEventID(r.ID, EventTypeBillingCalculated),
			EventTypeBillingCalculated, AggregateTypeBillingRecord, r.ID,
		),
		BillingRecordID:          r.ID,
		UsageEventID:             r.UsageEventID,
		UserID:                   r.UserID,
		ProductID:                r.ProductID,
		UsageAmount:              r.UsageAmount,
		UnitType:                 r.UnitType,
		UnitPrice:                r.UnitPrice,
		Currency:                 r.Currency,
		CostUSD:                  r.CostUSD,
		TokenEquivalent:          r.TokenEquivalent,
		IsFreeTier:               r.IsFreeTier,
		IsIncludedInSubscription: r.IsIncludedInSubscription,
		BillingStatus:            r.Status,
		CreatedAt:                r.CreatedAt,
	}
}

// Validate checks the payload at the consumer boundary
func (e *BillingCalculatedEvent) Validate() error {
	switch {
	case e.BillingRecordID == uuid.Nil:
		return shared.NewValidationError("billing_record_id is required")
	case e.UserID == "":
		return shared.NewValidationError("user_id is required")
	case e.CostUSD.IsNegative() || e.TokenEquivalent.IsNegative():
		return shared.NewValidationError("cost cannot be negative")
	case !e.BillingStatus.IsValid():
		return shared.NewValidationError("unknown billing_status")
	}
	return nil
}

// BillingErrorEvent reports a usage event the calculator could not bill
type BillingErrorEvent struct {
	shared.BaseDomainEvent
	UserID       string     `json:"user_id"`
	ProductID    string     `json:"product_id"`
	UsageEventID *uuid.UUID `json:"usage_event_id,omitempty"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	RetryCount   int        `json:"retry_count"`
	Time         time.Time  `json:"timestamp"`
}

// EventType returns the event type name
func (e *BillingErrorEvent) EventType() string {
	return EventTypeBillingError
}

// NewBillingErrorEvent creates a BillingErrorEvent. retryCount is the number of
// deliveries that preceded the failing one.
func NewBillingErrorEvent(ev *usage.UsageRecordedEvent, code, message string, retryCount int) *BillingErrorEvent {
	var usageID *uuid.UUID
	aggID := uuid.Nil
	if ev.UsageEventID != uuid.Nil {
		id := ev.UsageEventID
		usageID = &id
		aggID = id
	}
	base := shared.NewBaseDomainEvent(EventTypeBillingError, usage.AggregateTypeUsage, aggID)
	return &BillingErrorEvent{
		BaseDomainEvent: base,
		UserID:          ev.UserID,
		ProductID:       ev.ProductID,
		UsageEventID:    usageID,
		ErrorCode:       code,
		ErrorMessage:    message,
		RetryCount:      retryCount,
		Time:            base.Timestamp,
	}
}
