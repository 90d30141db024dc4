package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent represents an event that occurred in the domain
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
}

// SubjectProvider is implemented by events whose bus subject differs from their type,
// e.g. usage events fanned out per product.
type SubjectProvider interface {
	Subject() string
}

// SubjectOf returns the bus subject for an event
func SubjectOf(event DomainEvent) string {
	if sp, ok := event.(SubjectProvider); ok {
		if s := sp.Subject(); s != "" {
			return s
		}
	}
	return event.EventType()
}

// BaseDomainEvent provides common fields for all domain events
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AggID     uuid.UUID `json:"aggregate_id"`
	AggType   string    `json:"aggregate_type"`
	Version   int       `json:"schema_version,omitempty"`
}

// EventID returns the unique event identifier
func (e *BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the type of the event
func (e *BaseDomainEvent) EventType() string {
	return e.Type
}

// OccurredAt returns when the event occurred
func (e *BaseDomainEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID returns the ID of the aggregate that produced this event
func (e *BaseDomainEvent) AggregateID() uuid.UUID {
	return e.AggID
}

// AggregateType returns the type of the aggregate
func (e *BaseDomainEvent) AggregateType() string {
	return e.AggType
}

// SchemaVersion returns the schema version of the event, 1 when unset
func (e *BaseDomainEvent) SchemaVersion() int {
	if e.Version == 0 {
		return 1
	}
	return e.Version
}

// NewBaseDomainEvent creates a new base domain event with a random ID
func NewBaseDomainEvent(eventType, aggType string, aggID uuid.UUID) BaseDomainEvent {
	return NewBaseDomainEventWithID(uuid.New(), eventType, aggType, aggID)
}

// NewBaseDomainEventWithID creates a base domain event with a deterministic ID.
// Events derived from an idempotency key reuse it so broker-side dedup can match them.
func NewBaseDomainEventWithID(id uuid.UUID, eventType, aggType string, aggID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggID,
		AggType:   aggType,
		Version:   1,
	}
}

// DeriveEventID returns a deterministic event id for an aggregate and event type.
// Re-emitting the same logical event yields the same id, which brokers use to deduplicate.
func DeriveEventID(aggID uuid.UUID, eventType string) uuid.UUID {
	return uuid.NewSHA1(aggID, []byte(eventType))
}
