package models

import (
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel holds the columns every billing table shares
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func baseModelOf(e shared.BaseEntity) BaseModel {
	return BaseModel{ID: e.ID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

func (m BaseModel) entity() shared.BaseEntity {
	return shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

// VersionedModel adds the optimistic locking column
type VersionedModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

func versionedModelOf(a shared.BaseAggregateRoot) VersionedModel {
	return VersionedModel{BaseModel: baseModelOf(a.BaseEntity), Version: a.Version}
}

// root restores the aggregate root as read, so its persisted version is Version
func (m VersionedModel) root() shared.BaseAggregateRoot {
	return shared.RestoreAggregateRoot(m.entity(), m.Version)
}
