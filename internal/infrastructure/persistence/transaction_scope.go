package persistence

import (
	"context"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
	"gorm.io/gorm"
)

// GormTransactionScope implements txn.Scope using GORM transactions
type GormTransactionScope struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewGormTransactionScope creates a scope whose events are written through outbox
func NewGormTransactionScope(db *gorm.DB, outbox shared.OutboxEventSaver) *GormTransactionScope {
	return &GormTransactionScope{db: db, outbox: outbox}
}

// Execute runs fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos txn.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, outbox: s.outbox})
	})
}

type gormTransactionalRepositories struct {
	tx     *gorm.DB
	outbox shared.OutboxEventSaver
}

func (r *gormTransactionalRepositories) UsageRepo() usage.Repository {
	return NewGormUsageEventRepository(r.tx)
}

func (r *gormTransactionalRepositories) BillingRepo() billing.Repository {
	return NewGormBillingRecordRepository(r.tx)
}

func (r *gormTransactionalRepositories) WalletRepo() wallet.Repository {
	return NewGormWalletRepository(r.tx)
}

func (r *gormTransactionalRepositories) WalletTransactionRepo() wallet.TransactionRepository {
	return NewGormWalletTransactionRepository(r.tx)
}

func (r *gormTransactionalRepositories) SaveEvents(ctx context.Context, events ...shared.DomainEvent) error {
	return r.outbox.SaveEvents(ctx, r.tx, events...)
}

var (
	_ txn.Scope        = (*GormTransactionScope)(nil)
	_ txn.Repositories = (*gormTransactionalRepositories)(nil)
)
