package wallet

import (
	"context"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Repository persists wallets
type Repository interface {
	// FindByUserID returns shared.ErrNotFound when the user has no wallet
	FindByUserID(ctx context.Context, userID string) (*Wallet, error)

	// FindByUserIDForUpdate loads the wallet and locks its row until the surrounding
	// transaction ends. It must run inside a transaction.
	FindByUserIDForUpdate(ctx context.Context, userID string) (*Wallet, error)

	// Create inserts a new wallet; shared.ErrAlreadyExists when the user already has one
	Create(ctx context.Context, w *Wallet) error

	// SaveWithLock writes the balance if the stored version is w.Version-1,
	// otherwise it returns shared.ErrConcurrencyConflict
	SaveWithLock(ctx context.Context, w *Wallet) error
}

// TransactionRepository persists the wallet ledger
type TransactionRepository interface {
	// Create inserts the entry; created is false when one already exists for its id,
	// billing record or top-up reference
	Create(ctx context.Context, tx *Transaction) (created bool, err error)

	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// FindByBillingRecordID returns shared.ErrNotFound when the record was never debited
	FindByBillingRecordID(ctx context.Context, billingRecordID uuid.UUID) (*Transaction, error)

	FindByUser(ctx context.Context, userID string, filter shared.Filter) ([]*Transaction, int64, error)
}
