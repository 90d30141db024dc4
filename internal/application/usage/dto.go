package usage

import (
	"time"

	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
)

// RecordUsageInput is a usage recording request
type RecordUsageInput struct {
	// UsageEventID lets the caller pin the event id; it wins over IdempotencyKey
	UsageEventID   string            `json:"usage_event_id" validate:"omitempty,uuid"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,max=255"`
	UserID         string            `json:"user_id" validate:"required,max=100"`
	ProductID      string            `json:"product_id" validate:"required,max=100"`
	Amount         string            `json:"amount" validate:"required,max=40"`
	UnitType       string            `json:"unit_type" validate:"required,oneof=token request byte seconds"`
	UsageDetails   map[string]string `json:"usage_details" validate:"omitempty,max=64,dive,keys,max=128,endkeys,max=1024"`
	OccurredAt     *time.Time        `json:"occurred_at"`
}

// RecordUsageResult is the outcome of a recording
type RecordUsageResult struct {
	UsageEventID uuid.UUID `json:"usage_event_id"`
	// Duplicate is true when the event had already been recorded
	Duplicate bool `json:"duplicate"`
}

// UsageEventResponse is the read model of a usage event
type UsageEventResponse struct {
	UsageEventID   uuid.UUID         `json:"usage_event_id"`
	UserID         string            `json:"user_id"`
	ProductID      string            `json:"product_id"`
	Amount         string            `json:"amount"`
	UnitType       string            `json:"unit_type"`
	UsageDetails   map[string]string `json:"usage_details,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	RecordedAt     time.Time         `json:"recorded_at"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// ToUsageEventResponse converts a domain usage event
func ToUsageEventResponse(e *usage.UsageEvent) UsageEventResponse {
	return UsageEventResponse{
		UsageEventID:   e.ID,
		UserID:         e.UserID,
		ProductID:      e.ProductID,
		Amount:         e.Amount.String(),
		UnitType:       string(e.UnitType),
		UsageDetails:   e.UsageDetails,
		OccurredAt:     e.OccurredAt,
		RecordedAt:     e.RecordedAt(),
		IdempotencyKey: e.IdempotencyKey,
	}
}
