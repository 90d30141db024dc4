package models

import (
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductModel is the persistence model for a priced product
type ProductModel struct {
	ID                  string          `gorm:"type:varchar(100);primaryKey"`
	Name                string          `gorm:"type:varchar(200);not null"`
	UnitType            usage.UnitType  `gorm:"type:varchar(20);not null"`
	UnitPrice           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency            string          `gorm:"type:varchar(3);not null;default:USD"`
	TokenConversionRate decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0"`
	FreeTierQuota       decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0"`
	Active              bool            `gorm:"not null"`
	CreatedAt           time.Time       `gorm:"not null"`
	UpdatedAt           time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product
func (m *ProductModel) ToDomain() *pricing.Product {
	return &pricing.Product{
		ID:                  m.ID,
		Name:                m.Name,
		UnitType:            m.UnitType,
		UnitPrice:           m.UnitPrice,
		Currency:            m.Currency,
		TokenConversionRate: m.TokenConversionRate,
		FreeTierQuota:       m.FreeTierQuota,
		Active:              m.Active,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// ProductModelFromDomain creates a persistence model from a domain Product
func ProductModelFromDomain(p *pricing.Product) *ProductModel {
	return &ProductModel{
		ID:                  p.ID,
		Name:                p.Name,
		UnitType:            p.UnitType,
		UnitPrice:           p.UnitPrice,
		Currency:            p.Currency,
		TokenConversionRate: p.TokenConversionRate,
		FreeTierQuota:       p.FreeTierQuota,
		Active:              p.Active,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// SubscriptionModel is the persistence model for a subscription
type SubscriptionModel struct {
	ID                 uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	UserID             string                     `gorm:"type:varchar(100);not null;index"`
	Status             pricing.SubscriptionStatus `gorm:"type:varchar(20);not null"`
	CurrentPeriodStart time.Time                  `gorm:"not null"`
	CurrentPeriodEnd   time.Time                  `gorm:"not null"`
	IncludedProducts   []string                   `gorm:"serializer:json;type:jsonb"`
	CreatedAt          time.Time                  `gorm:"not null"`
	UpdatedAt          time.Time                  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription
func (m *SubscriptionModel) ToDomain() *pricing.Subscription {
	return &pricing.Subscription{
		ID:                 m.ID,
		UserID:             m.UserID,
		Status:             m.Status,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		IncludedProducts:   m.IncludedProducts,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// SubscriptionModelFromDomain creates a persistence model from a domain Subscription
func SubscriptionModelFromDomain(s *pricing.Subscription) *SubscriptionModel {
	return &SubscriptionModel{
		ID:                 s.ID,
		UserID:             s.UserID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		IncludedProducts:   s.IncludedProducts,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
