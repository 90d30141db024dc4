package models

import (
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingRecordModel is the persistence model for the BillingRecord aggregate.
// The unique index on usage_event_id is the calculator's idempotency guard.
type BillingRecordModel struct {
	BaseModel
	UsageEventID             *uuid.UUID      `gorm:"type:uuid;uniqueIndex"`
	UserID                   string          `gorm:"type:varchar(100);not null;index:idx_billing_user_product,priority:1"`
	ProductID                string          `gorm:"type:varchar(100);not null;index:idx_billing_user_product,priority:2"`
	UsageAmount              decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	UnitType                 usage.UnitType  `gorm:"type:varchar(20);not null"`
	UnitPrice                decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency                 string          `gorm:"type:varchar(3);not null"`
	CostUSD                  decimal.Decimal `gorm:"column:cost_usd;type:numeric(20,8);not null"`
	TokenEquivalent          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	IsFreeTier               bool            `gorm:"not null;default:false"`
	IsIncludedInSubscription bool            `gorm:"not null;default:false"`
	BillingStatus            billing.Status  `gorm:"type:varchar(30);not null;index"`
	WalletTransactionID      *uuid.UUID      `gorm:"type:uuid"`
	FailureReason            string          `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (BillingRecordModel) TableName() string {
	return "billing_records"
}

// ToDomain converts the persistence model to a domain BillingRecord
func (m *BillingRecordModel) ToDomain() *billing.BillingRecord {
	return &billing.BillingRecord{
		BaseEntity:               m.BaseModel.entity(),
		UsageEventID:             m.UsageEventID,
		UserID:                   m.UserID,
		ProductID:                m.ProductID,
		UsageAmount:              m.UsageAmount,
		UnitType:                 m.UnitType,
		UnitPrice:                m.UnitPrice,
		Currency:                 m.Currency,
		CostUSD:                  m.CostUSD,
		TokenEquivalent:          m.TokenEquivalent,
		IsFreeTier:               m.IsFreeTier,
		IsIncludedInSubscription: m.IsIncludedInSubscription,
		Status:                   m.BillingStatus,
		WalletTransactionID:      m.WalletTransactionID,
		FailureReason:            m.FailureReason,
	}
}

// BillingRecordModelFromDomain creates a persistence model from a domain BillingRecord
func BillingRecordModelFromDomain(r *billing.BillingRecord) *BillingRecordModel {
	return &BillingRecordModel{
		BaseModel:                baseModelOf(r.BaseEntity),
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
		WalletTransactionID:      r.WalletTransactionID,
		FailureReason:            r.FailureReason,
	}
}
