package wallet

import (
	"strings"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a balance change
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)

// AccountingUnit selects which billing amount settles against the wallet
type AccountingUnit string

const (
	AccountingUnitUSD   AccountingUnit = "usd"
	AccountingUnitToken AccountingUnit = "token"
)

// IsValid returns true if the unit is known
func (u AccountingUnit) IsValid() bool {
	return u == AccountingUnitUSD || u == AccountingUnitToken
}

// AmountOf picks the settlement amount for this unit
func (u AccountingUnit) AmountOf(costUSD, tokenEquivalent decimal.Decimal) decimal.Decimal {
	if u == AccountingUnitToken {
		return tokenEquivalent
	}
	return costUSD
}

var topUpNamespace = uuid.MustParse("0b8e6d3c-1f47-5a2e-9c8d-2e7f4a6b1c90")

// Transaction is an immutable ledger entry. A debit references the billing record it settles;
// at most one transaction exists per billing record.
type Transaction struct {
	ID              uuid.UUID
	WalletID        uuid.UUID
	UserID          string
	BillingRecordID *uuid.UUID
	Type            TransactionType
	Amount          decimal.Decimal
	BalanceBefore   decimal.Decimal
	BalanceAfter    decimal.Decimal
	AccountingUnit  AccountingUnit
	Reference       string
	CreatedAt       time.Time
}

// TransactionIDForBilling derives the transaction id that settles a billing record
func TransactionIDForBilling(billingRecordID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(billingRecordID, []byte("wallet_transaction"))
}

// TransactionIDForTopUp derives the transaction id of a top-up reference
func TransactionIDForTopUp(userID, reference string) uuid.UUID {
	return uuid.NewSHA1(topUpNamespace, []byte(userID+"|"+reference))
}

// NewDebitTransaction records a settlement debit
func NewDebitTransaction(w *Wallet, billingRecordID uuid.UUID, amount, before, after decimal.Decimal, unit AccountingUnit) *Transaction {
	id := billingRecordID
	return &Transaction{
		ID:              TransactionIDForBilling(billingRecordID),
		WalletID:        w.ID,
		UserID:          w.UserID,
		BillingRecordID: &id,
		Type:            TransactionTypeDebit,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    after,
		AccountingUnit:  unit,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewCreditTransaction records a top-up
func NewCreditTransaction(w *Wallet, reference string, amount, before, after decimal.Decimal, unit AccountingUnit) (*Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, shared.NewValidationError("top-up reference cannot be empty")
	}
	return &Transaction{
		ID:             TransactionIDForTopUp(w.UserID, reference),
		WalletID:       w.ID,
		UserID:         w.UserID,
		Type:           TransactionTypeCredit,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		AccountingUnit: unit,
		Reference:      reference,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Delta returns the signed balance change of the transaction
func (t *Transaction) Delta() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
