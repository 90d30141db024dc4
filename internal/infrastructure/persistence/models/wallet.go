package models

import (
	"time"

	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletModel is the persistence model for the Wallet aggregate
type WalletModel struct {
	VersionedModel
	UserID   string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	Balance  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency string          `gorm:"type:varchar(3);not null"`
}

// TableName returns the table name for GORM
func (WalletModel) TableName() string {
	return "wallets"
}

// ToDomain converts the persistence model to a domain Wallet
func (m *WalletModel) ToDomain() *wallet.Wallet {
	return &wallet.Wallet{
		BaseAggregateRoot: m.VersionedModel.root(),
		UserID:            m.UserID,
		Balance:           m.Balance,
		Currency:          m.Currency,
	}
}

// WalletModelFromDomain creates a persistence model from a domain Wallet
func WalletModelFromDomain(w *wallet.Wallet) *WalletModel {
	return &WalletModel{
		VersionedModel: versionedModelOf(w.BaseAggregateRoot),
		UserID:         w.UserID,
		Balance:        w.Balance,
		Currency:       w.Currency,
	}
}

// WalletTransactionModel is the persistence model of a ledger entry.
// billing_record_id is unique so a billing record is debited at most once.
type WalletTransactionModel struct {
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	WalletID        uuid.UUID              `gorm:"type:uuid;not null;index"`
	UserID          string                 `gorm:"type:varchar(100);not null;index:idx_wallet_tx_user_created,priority:1"`
	BillingRecordID *uuid.UUID             `gorm:"type:uuid;uniqueIndex"`
	Type            wallet.TransactionType `gorm:"column:transaction_type;type:varchar(10);not null"`
	Amount          decimal.Decimal        `gorm:"type:numeric(20,8);not null"`
	BalanceBefore   decimal.Decimal        `gorm:"type:numeric(20,8);not null"`
	BalanceAfter    decimal.Decimal        `gorm:"type:numeric(20,8);not null"`
	AccountingUnit  wallet.AccountingUnit  `gorm:"type:varchar(10);not null"`
	Reference       string                 `gorm:"type:varchar(255)"`
	CreatedAt       time.Time              `gorm:"not null;index:idx_wallet_tx_user_created,priority:2"`
}

// TableName returns the table name for GORM
func (WalletTransactionModel) TableName() string {
	return "wallet_transactions"
}

// ToDomain converts the persistence model to a domain Transaction
func (m *WalletTransactionModel) ToDomain() *wallet.Transaction {
	return &wallet.Transaction{
		ID:              m.ID,
		WalletID:        m.WalletID,
		UserID:          m.UserID,
		BillingRecordID: m.BillingRecordID,
		Type:            m.Type,
		Amount:          m.Amount,
		BalanceBefore:   m.BalanceBefore,
		BalanceAfter:    m.BalanceAfter,
		AccountingUnit:  m.AccountingUnit,
		Reference:       m.Reference,
		CreatedAt:       m.CreatedAt,
	}
}

// WalletTransactionModelFromDomain creates a persistence model from a domain Transaction
func WalletTransactionModelFromDomain(t *wallet.Transaction) *WalletTransactionModel {
	return &WalletTransactionModel{
		ID:              t.ID,
		WalletID:        t.WalletID,
		UserID:          t.UserID,
		BillingRecordID: t.BillingRecordID,
		Type:            t.Type,
		Amount:          t.Amount,
		BalanceBefore:   t.BalanceBefore,
		BalanceAfter:    t.BalanceAfter,
		AccountingUnit:  t.AccountingUnit,
		Reference:       t.Reference,
		CreatedAt:       t.CreatedAt,
	}
}
