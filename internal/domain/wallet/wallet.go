// Package wallet holds user balances and the append-only ledger of changes to them.
package wallet

import (
	"fmt"
	"strings"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AggregateTypeWallet is the aggregate type of wallet events
const AggregateTypeWallet = "Wallet"

// Wallet is a user's prepaid balance. Version guards concurrent updates.
type Wallet struct {
	shared.BaseAggregateRoot
	UserID   string
	Balance  decimal.Decimal
	Currency string
}

// NewWallet creates an empty wallet for a user
func NewWallet(userID, currency string) (*Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, shared.NewValidationError("user_id cannot be empty")
	}
	if currency == "" {
		currency = "USD"
	}
	return &Wallet{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
		Balance:           decimal.Zero,
		Currency:          currency,
	}, nil
}

// InsufficientBalanceError reports a debit larger than the available balance
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

// Error implements the error interface
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Available)
}

// Is makes errors.Is(err, shared.ErrInsufficientBalance) hold
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == shared.ErrInsufficientBalance
}

// Debit subtracts amount from the balance. The balance never goes negative.
func (w *Wallet) Debit(amount decimal.Decimal) (before, after decimal.Decimal, err error) {
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, shared.NewValidationError("debit amount cannot be negative")
	}
	if w.Balance.LessThan(amount) {
		return w.Balance, w.Balance, &InsufficientBalanceError{Required: amount, Available: w.Balance}
	}
	before = w.Balance
	w.Balance = w.Balance.Sub(amount)
	w.Changed()
	return before, w.Balance, nil
}

// Credit adds amount to the balance
func (w *Wallet) Credit(amount decimal.Decimal) (before, after decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, shared.NewValidationError("credit amount must be positive")
	}
	before = w.Balance
	w.Balance = w.Balance.Add(amount)
	w.Changed()
	return before, w.Balance, nil
}
