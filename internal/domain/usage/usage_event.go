package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// eventIDNamespace scopes UUIDv5 derivation of usage event ids
var eventIDNamespace = uuid.MustParse("6f1c2d0e-93a4-5b7e-8c21-4d9e0b3a7f52")

// UsageEvent is an immutable record of consumption. It is never updated after it
// has been recorded; corrections are made with new events.
type UsageEvent struct {
	shared.BaseEntity
	UserID         string
	ProductID      string
	Amount         decimal.Decimal
	UnitType       UnitType
	UsageDetails   map[string]string
	OccurredAt     time.Time
	IdempotencyKey string
}

// NewUsageEventParams carries the inputs of a usage recording
type NewUsageEventParams struct {
	// EventID is optional; when nil it is derived from IdempotencyKey or the event content
	EventID        uuid.UUID
	IdempotencyKey string
	UserID         string
	ProductID      string
	Amount         decimal.Decimal
	UnitType       UnitType
	UsageDetails   map[string]string
	OccurredAt     time.Time
}

// NewUsageEvent validates the params and builds a usage event
func NewUsageEvent(p NewUsageEventParams) (*UsageEvent, error) {
	userID := strings.TrimSpace(p.UserID)
	productID := strings.TrimSpace(p.ProductID)

	if userID == "" {
		return nil, shared.NewValidationError("user_id cannot be empty")
	}
	if productID == "" {
		return nil, shared.NewValidationError("product_id cannot be empty")
	}
	if p.Amount.IsNegative() {
		return nil, shared.NewValidationError("amount cannot be negative")
	}
	if !p.UnitType.IsValid() {
		return nil, shared.NewValidationError(fmt.Sprintf("unsupported unit_type %q", p.UnitType))
	}

	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	// Postgres keeps microseconds; truncating keeps derived ids stable across round trips.
	occurredAt = occurredAt.UTC().Truncate(time.Microsecond)

	id := p.EventID
	if id == uuid.Nil {
		id = DeriveEventID(p.IdempotencyKey, userID, productID, p.Amount, p.UnitType, occurredAt)
	}

	details := make(map[string]string, len(p.UsageDetails))
	for k, v := range p.UsageDetails {
		details[k] = v
	}

	return &UsageEvent{
		BaseEntity:     shared.NewBaseEntityWithID(id),
		UserID:         userID,
		ProductID:      productID,
		Amount:         p.Amount,
		UnitType:       p.UnitType,
		UsageDetails:   details,
		OccurredAt:     occurredAt,
		IdempotencyKey: p.IdempotencyKey,
	}, nil
}

// ParseAmount parses a usage amount, rejecting malformed and negative values
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, shared.NewValidationError(fmt.Sprintf("amount %q is not a decimal", s))
	}
	if amount.IsNegative() {
		return decimal.Zero, shared.NewValidationError("amount cannot be negative")
	}
	return amount, nil
}

// DeriveEventID returns a deterministic id for a usage event. A caller idempotency key
// wins; otherwise the id is derived from the canonical content tuple.
func DeriveEventID(idempotencyKey, userID, productID string, amount decimal.Decimal, unit UnitType, occurredAt time.Time) uuid.UUID {
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		return uuid.NewSHA1(eventIDNamespace, []byte("key|"+userID+"|"+key))
	}
	canonical := strings.Join([]string{
		userID,
		productID,
		amount.String(),
		string(unit),
		occurredAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(eventIDNamespace, []byte(canonical))
}

// RecordedAt returns when the event was accepted by the recorder
func (e *UsageEvent) RecordedAt() time.Time {
	return e.CreatedAt
}

// ToRecordedEvent builds the bus event for this usage event
func (e *UsageEvent) ToRecordedEvent() *UsageRecordedEvent {
	return NewUsageRecordedEvent(e)
}
