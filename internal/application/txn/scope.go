// Package txn defines the transaction boundary shared by the pipeline services.
package txn

import (
	"context"

	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
)

// Scope runs a unit of work atomically
type Scope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}

// Repositories provides the repositories of one transaction. Everything written through
// them, outbox events included, commits or rolls back together.
type Repositories interface {
	UsageRepo() usage.Repository
	BillingRepo() billing.Repository
	WalletRepo() wallet.Repository
	WalletTransactionRepo() wallet.TransactionRepository
	// SaveEvents stores events in the outbox
	SaveEvents(ctx context.Context, events ...shared.DomainEvent) error
}
