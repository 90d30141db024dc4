package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBillingRecordRepository implements billing.Repository using GORM
type GormBillingRecordRepository struct {
	db *gorm.DB
}

// NewGormBillingRecordRepository creates a new GormBillingRecordRepository
func NewGormBillingRecordRepository(db *gorm.DB) *GormBillingRecordRepository {
	return &GormBillingRecordRepository{db: db}
}

// Create inserts the record. A conflict on id or usage_event_id is not an error;
// created reports whether this call inserted the row.
func (r *GormBillingRecordRepository) Create(ctx context.Context, record *billing.BillingRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.BillingRecordModelFromDomain(record))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByID finds a billing record by id
func (r *GormBillingRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.BillingRecord, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByUsageEventID finds the billing record of a usage event
func (r *GormBillingRecordRepository) FindByUsageEventID(ctx context.Context, usageEventID uuid.UUID) (*billing.BillingRecord, error) {
	return r.findOne(ctx, "usage_event_id = ?", usageEventID)
}

func (r *GormBillingRecordRepository) findOne(ctx context.Context, query string, args ...any) (*billing.BillingRecord, error) {
	var m models.BillingRecordModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindAll lists billing records matching the filter
func (r *GormBillingRecordRepository) FindAll(ctx context.Context, filter billing.Filter) ([]*billing.BillingRecord, int64, error) {
	page := filter.Filter.Normalize()
	query := r.db.WithContext(ctx).Model(&models.BillingRecordModel{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("billing_status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.BillingRecordModel
	err := query.
		Order(orderClause(page, billingSortFields, "created_at")).
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return toBillingRecords(rows), total, nil
}

// UpdateSettlement writes the settlement columns. Nothing else on a billing record changes after creation.
func (r *GormBillingRecordRepository) UpdateSettlement(ctx context.Context, record *billing.BillingRecord) error {
	result := r.db.WithContext(ctx).
		Model(&models.BillingRecordModel{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"billing_status":        record.Status,
			"wallet_transaction_id": record.WalletTransactionID,
			"failure_reason":        record.FailureReason,
			"updated_at":            record.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SumUsage totals usage billed to a user for a product in [from, to)
func (r *GormBillingRecordRepository) SumUsage(ctx context.Context, userID, productID string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.BillingRecordModel{}).
		Select("SUM(usage_amount)").
		Where("user_id = ? AND product_id = ? AND created_at >= ? AND created_at < ?", userID, productID, from, to).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// FindPendingBefore returns pending records created before the cutoff, oldest first
func (r *GormBillingRecordRepository) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]*billing.BillingRecord, error) {
	var rows []models.BillingRecordModel
	err := r.db.WithContext(ctx).
		Where("billing_status = ? AND created_at < ?", billing.StatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toBillingRecords(rows), nil
}

func toBillingRecords(rows []models.BillingRecordModel) []*billing.BillingRecord {
	records := make([]*billing.BillingRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records
}

var _ billing.Repository = (*GormBillingRecordRepository)(nil)
