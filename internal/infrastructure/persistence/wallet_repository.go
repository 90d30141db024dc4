package persistence

import (
	"context"
	"errors"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWalletRepository implements wallet.Repository using GORM
type GormWalletRepository struct {
	db *gorm.DB
}

// NewGormWalletRepository creates a new GormWalletRepository
func NewGormWalletRepository(db *gorm.DB) *GormWalletRepository {
	return &GormWalletRepository{db: db}
}

// FindByUserID finds a user's wallet
func (r *GormWalletRepository) FindByUserID(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return r.find(r.db.WithContext(ctx), userID)
}

// FindByUserIDForUpdate finds a user's wallet with SELECT ... FOR UPDATE.
// The row stays locked until the enclosing transaction commits or rolls back.
func (r *GormWalletRepository) FindByUserIDForUpdate(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID)
}

func (r *GormWalletRepository) find(db *gorm.DB, userID string) (*wallet.Wallet, error) {
	var m models.WalletModel
	if err := db.Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Create inserts a wallet; a second wallet for the same user is rejected
func (r *GormWalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.WalletModelFromDomain(w))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrAlreadyExists
	}
	w.MarkPersisted()
	return nil
}

// SaveWithLock writes the balance only if the row still holds the version w was
// loaded at; otherwise it returns shared.ErrConcurrencyConflict
func (r *GormWalletRepository) SaveWithLock(ctx context.Context, w *wallet.Wallet) error {
	result := r.db.WithContext(ctx).
		Model(&models.WalletModel{}).
		Where("id = ? AND version = ?", w.ID, w.PersistedVersion()).
		Updates(map[string]any{
			"balance":    w.Balance,
			"version":    w.Version,
			"updated_at": w.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	w.MarkPersisted()
	return nil
}

// GormWalletTransactionRepository implements wallet.TransactionRepository using GORM
type GormWalletTransactionRepository struct {
	db *gorm.DB
}

// NewGormWalletTransactionRepository creates a new GormWalletTransactionRepository
func NewGormWalletTransactionRepository(db *gorm.DB) *GormWalletTransactionRepository {
	return &GormWalletTransactionRepository{db: db}
}

// Create appends a ledger entry. The primary key and the unique billing_record_id make
// a repeated settlement or top-up a no-op.
func (r *GormWalletTransactionRepository) Create(ctx context.Context, tx *wallet.Transaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.WalletTransactionModelFromDomain(tx))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByID finds a ledger entry by id
func (r *GormWalletTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByBillingRecordID finds the debit that settled a billing record
func (r *GormWalletTransactionRepository) FindByBillingRecordID(ctx context.Context, billingRecordID uuid.UUID) (*wallet.Transaction, error) {
	return r.findOne(ctx, "billing_record_id = ?", billingRecordID)
}

func (r *GormWalletTransactionRepository) findOne(ctx context.Context, query string, args ...any) (*wallet.Transaction, error) {
	var m models.WalletTransactionModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByUser lists a user's ledger entries
func (r *GormWalletTransactionRepository) FindByUser(ctx context.Context, userID string, filter shared.Filter) ([]*wallet.Transaction, int64, error) {
	filter = filter.Normalize()
	query := r.db.WithContext(ctx).Model(&models.WalletTransactionModel{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.WalletTransactionModel
	err := query.
		Order(orderClause(filter, walletTransactionSortFields, "created_at")).
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	txs := make([]*wallet.Transaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].ToDomain()
	}
	return txs, total, nil
}

var (
	_ wallet.Repository            = (*GormWalletRepository)(nil)
	_ wallet.TransactionRepository = (*GormWalletTransactionRepository)(nil)
)
