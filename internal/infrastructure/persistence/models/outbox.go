package models

import (
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// OutboxEventColumns describe the stored event; they are written once
type OutboxEventColumns struct {
	EventID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	EventType     string    `gorm:"type:varchar(255);not null"`
	Subject       string    `gorm:"type:varchar(255);not null"`
	AggregateID   uuid.UUID `gorm:"type:uuid;not null"`
	AggregateType string    `gorm:"type:varchar(100);not null"`
	Payload       []byte    `gorm:"not null"`
}

// OutboxRelayColumns track delivery and change on every relay attempt
type OutboxRelayColumns struct {
	Status      shared.OutboxStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_outbox_status_created,priority:1"`
	RetryCount  int                 `gorm:"not null;default:0"`
	MaxRetries  int                 `gorm:"not null;default:5"`
	LastError   string              `gorm:"type:text"`
	NextRetryAt *time.Time          `gorm:"index:idx_outbox_next_retry"`
	ProcessedAt *time.Time
}

// OutboxRelayColumnNames lists the columns an update of the relay state may touch
var OutboxRelayColumnNames = []string{
	"status", "retry_count", "max_retries", "last_error", "next_retry_at", "processed_at", "updated_at",
}

// OutboxEntryModel is a row of outbox_events
type OutboxEntryModel struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`
	OutboxEventColumns
	OutboxRelayColumns
	CreatedAt time.Time `gorm:"not null;index:idx_outbox_status_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OutboxEntryModel) TableName() string {
	return "outbox_events"
}

// ToDomain converts the row to a domain OutboxEntry
func (m *OutboxEntryModel) ToDomain() *shared.OutboxEntry {
	return &shared.OutboxEntry{
		ID:            m.ID,
		EventID:       m.EventID,
		EventType:     m.EventType,
		Subject:       m.Subject,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		Payload:       m.Payload,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		LastError:     m.LastError,
		NextRetryAt:   m.NextRetryAt,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// OutboxEntryModelFromDomain maps a domain OutboxEntry to a row
func OutboxEntryModelFromDomain(e *shared.OutboxEntry) *OutboxEntryModel {
	return &OutboxEntryModel{
		ID: e.ID,
		OutboxEventColumns: OutboxEventColumns{
			EventID:       e.EventID,
			EventType:     e.EventType,
			Subject:       e.Subject,
			AggregateID:   e.AggregateID,
			AggregateType: e.AggregateType,
			Payload:       e.Payload,
		},
		OutboxRelayColumns: OutboxRelayColumns{
			Status:      e.Status,
			RetryCount:  e.RetryCount,
			MaxRetries:  e.MaxRetries,
			LastError:   e.LastError,
			NextRetryAt: e.NextRetryAt,
			ProcessedAt: e.ProcessedAt,
		},
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
