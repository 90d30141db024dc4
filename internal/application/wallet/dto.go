package wallet

import (
	"time"

	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TopUpInput credits a wallet. Reference identifies the payment and makes the top-up idempotent.
type TopUpInput struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Amount    string `json:"amount" validate:"required,max=64"`
	Reference string `json:"reference" validate:"required,max=128"`
}

// TopUpResult is the outcome of a top-up
type TopUpResult struct {
	Transaction TransactionResponse `json:"transaction"`
	Duplicate   bool                `json:"duplicate"`
}

// WalletResponse is the read model of a wallet
type WalletResponse struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ToWalletResponse converts a wallet to its read model
func ToWalletResponse(w *wallet.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID,
		UserID:    w.UserID,
		Balance:   w.Balance,
		Currency:  w.Currency,
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
	}
}

// TransactionResponse is the read model of a ledger entry
type TransactionResponse struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	BillingRecordID *uuid.UUID      `json:"billing_record_id,omitempty"`
	Type            string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	AccountingUnit  string          `json:"accounting_unit"`
	Reference       string          `json:"reference,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ToTransactionResponse converts a ledger entry to its read model
func ToTransactionResponse(t *wallet.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		BillingRecordID: t.BillingRecordID,
		Type:            string(t.Type),
		Amount:          t.Amount,
		BalanceBefore:   t.BalanceBefore,
		BalanceAfter:    t.BalanceAfter,
		AccountingUnit:  string(t.AccountingUnit),
		Reference:       t.Reference,
		CreatedAt:       t.CreatedAt,
	}
}

// SettlementResponse reports a manual settlement
type SettlementResponse struct {
	BillingRecordID     uuid.UUID  `json:"billing_record_id"`
	Outcome             string     `json:"outcome"`
	BillingStatus       string     `json:"billing_status"`
	WalletTransactionID *uuid.UUID `json:"wallet_transaction_id,omitempty"`
	BalanceAfter        *string    `json:"balance_after,omitempty"`
}

func toSettlementResponse(r *SettlementResult) SettlementResponse {
	return SettlementResponse{
		BillingRecordID:     r.BillingRecordID,
		Outcome:             string(r.Outcome),
		BillingStatus:       r.Status.String(),
		WalletTransactionID: r.TransactionID,
		BalanceAfter:        r.BalanceAfter,
	}
}
