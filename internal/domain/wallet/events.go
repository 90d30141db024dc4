package wallet

import (
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published by wallet settlement
const (
	EventTypeInsufficientBalance = "wallet.insufficient_balance"
	EventTypeWalletDebited       = "wallet.debited"
	EventTypeWalletCredited      = "wallet.credited"
)

// InsufficientBalanceEvent is the compensating event for a settlement that could not be paid
type InsufficientBalanceEvent struct {
	shared.BaseDomainEvent
	UserID           string          `json:"user_id"`
	BillingRecordID  uuid.UUID       `json:"billing_record_id"`
	RequiredAmount   decimal.Decimal `json:"required_amount"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	AccountingUnit   AccountingUnit  `json:"accounting_unit"`
}

// EventType returns the event type name
func (e *InsufficientBalanceEvent) EventType() string {
	return EventTypeInsufficientBalance
}

// NewInsufficientBalanceEvent creates an InsufficientBalanceEvent
func NewInsufficientBalanceEvent(w *Wallet, billingRecordID uuid.UUID, required, available decimal.Decimal, unit AccountingUnit) *InsufficientBalanceEvent {
	return &InsufficientBalanceEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeInsufficientBalance, AggregateTypeWallet, w.ID),
		UserID:           w.UserID,
		BillingRecordID:  billingRecordID,
		RequiredAmount:   required,
		AvailableBalance: available,
		AccountingUnit:   unit,
	}
}

// WalletDebitedEvent is raised after a settlement debit commits
type WalletDebitedEvent struct {
	shared.BaseDomainEvent
	TransactionID   uuid.UUID       `json:"transaction_id"`
	UserID          string          `json:"user_id"`
	BillingRecordID uuid.UUID       `json:"billing_record_id"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	AccountingUnit  AccountingUnit  `json:"accounting_unit"`
}

// EventType returns the event type name
func (e *WalletDebitedEvent) EventType() string {
	return EventTypeWalletDebited
}

// NewWalletDebitedEvent creates a WalletDebitedEvent
func NewWalletDebitedEvent(w *Wallet, tx *Transaction) *WalletDebitedEvent {
	var billingID uuid.UUID
	if tx.BillingRecordID != nil {
		billingID = *tx.BillingRecordID
	}
	return &WalletDebitedEvent{
		BaseDomainEvent: shared.NewBaseDomainEventWithID(
			shared.DeriveEventID(tx.ID, EventTypeWalletDebited),
			EventTypeWalletDebited, AggregateTypeWallet, w.ID,
		),
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		BillingRecordID: billingID,
		Amount:          tx.Amount,
		BalanceBefore:   tx.BalanceBefore,
		BalanceAfter:    tx.BalanceAfter,
		AccountingUnit:  tx.AccountingUnit,
	}
}

// WalletCreditedEvent is raised after a top-up commits
type WalletCreditedEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID       `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference"`
}

// EventType returns the event type name
func (e *WalletCreditedEvent) EventType() string {
	return EventTypeWalletCredited
}

// NewWalletCreditedEvent creates a WalletCreditedEvent
func NewWalletCreditedEvent(w *Wallet, tx *Transaction) *WalletCreditedEvent {
	return &WalletCreditedEvent{
		BaseDomainEvent: shared.NewBaseDomainEventWithID(
			shared.DeriveEventID(tx.ID, EventTypeWalletCredited),
			EventTypeWalletCredited, AggregateTypeWallet, w.ID,
		),
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		BalanceAfter:  tx.BalanceAfter,
		Reference:     tx.Reference,
	}
}
