package models

import (
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageEventModel is the persistence model for the UsageEvent aggregate.
// CreatedAt is the recorded_at timestamp.
type UsageEventModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID         string            `gorm:"type:varchar(100);not null;index:idx_usage_user_occurred,priority:1"`
	ProductID      string            `gorm:"type:varchar(100);not null"`
	Amount         decimal.Decimal   `gorm:"type:numeric(20,8);not null"`
	UnitType       usage.UnitType    `gorm:"type:varchar(20);not null"`
	UsageDetails   map[string]string `gorm:"serializer:json;type:jsonb"`
	OccurredAt     time.Time         `gorm:"not null;index:idx_usage_user_occurred,priority:2"`
	IdempotencyKey string            `gorm:"type:varchar(255)"`
	CreatedAt      time.Time         `gorm:"column:recorded_at;not null;index"`
}

// TableName returns the table name for GORM
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToDomain converts the persistence model to a domain UsageEvent
func (m *UsageEventModel) ToDomain() *usage.UsageEvent {
	details := m.UsageDetails
	if details == nil {
		details = map[string]string{}
	}
	return &usage.UsageEvent{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.CreatedAt,
		},
		UserID:         m.UserID,
		ProductID:      m.ProductID,
		Amount:         m.Amount,
		UnitType:       m.UnitType,
		UsageDetails:   details,
		OccurredAt:     m.OccurredAt,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// UsageEventModelFromDomain creates a persistence model from a domain UsageEvent
func UsageEventModelFromDomain(e *usage.UsageEvent) *UsageEventModel {
	return &UsageEventModel{
		ID:             e.ID,
		UserID:         e.UserID,
		ProductID:      e.ProductID,
		Amount:         e.Amount,
		UnitType:       e.UnitType,
		UsageDetails:   e.UsageDetails,
		OccurredAt:     e.OccurredAt,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}
