package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type and subject constants
const (
	EventTypeUsageRecorded = "usage.recorded"
	AggregateTypeUsage     = "UsageEvent"

	// SubjectPrefix is followed by the product id
	SubjectPrefix = "usage.recorded."
	// SubjectWildcard matches usage events for every product
	SubjectWildcard = "usage.recorded.>"
)

// UsageRecordedEvent carries the full usage event on usage.recorded.<product_id>
type UsageRecordedEvent struct {
	shared.BaseDomainEvent
	UsageEventID uuid.UUID         `json:"usage_event_id"`
	UserID       string            `json:"user_id"`
	ProductID    string            `json:"product_id"`
	Amount       decimal.Decimal   `json:"amount"`
	UnitType     UnitType          `json:"unit_type"`
	UsageDetails map[string]string `json:"usage_details,omitempty"`
	// UsageOccurredAt is when the usage happened, as opposed to when the event was raised
	UsageOccurredAt time.Time `json:"occurred_at"`
}

// NewUsageRecordedEvent creates a UsageRecordedEvent. The event id equals the usage event id,
// so a re-published recording is deduplicated by the broker.
func NewUsageRecordedEvent(e *UsageEvent) *UsageRecordedEvent {
	return &UsageRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEventWithID(e.ID, EventTypeUsageRecorded, AggregateTypeUsage, e.ID),
		UsageEventID:    e.ID,
		UserID:          e.UserID,
		ProductID:       e.ProductID,
		Amount:          e.Amount,
		UnitType:        e.UnitType,
		UsageDetails:    e.UsageDetails,
		UsageOccurredAt: e.OccurredAt,
	}
}

// EventType returns the event type name
func (e *UsageRecordedEvent) EventType() string {
	return EventTypeUsageRecorded
}

// Subject fans usage events out per product
func (e *UsageRecordedEvent) Subject() string {
	return SubjectPrefix + e.ProductID
}

// Validate checks the payload at the consumer boundary
func (e *UsageRecordedEvent) Validate() error {
	var problems []string
	if e.UsageEventID == uuid.Nil {
		problems = append(problems, "usage_event_id is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		problems = append(problems, "user_id is required")
	}
	if strings.TrimSpace(e.ProductID) == "" {
		problems = append(problems, "product_id is required")
	}
	if e.Amount.IsNegative() {
		problems = append(problems, "amount cannot be negative")
	}
	if !e.UnitType.IsValid() {
		problems = append(problems, fmt.Sprintf("unsupported unit_type %q", e.UnitType))
	}
	if len(problems) > 0 {
		return shared.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

var _ shared.DomainEvent = (*UsageRecordedEvent)(nil)
