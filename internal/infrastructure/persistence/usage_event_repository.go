package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUsageEventRepository implements usage.Repository using GORM
type GormUsageEventRepository struct {
	db *gorm.DB
}

// NewGormUsageEventRepository creates a new GormUsageEventRepository
func NewGormUsageEventRepository(db *gorm.DB) *GormUsageEventRepository {
	return &GormUsageEventRepository{db: db}
}

// Create inserts the event with ON CONFLICT DO NOTHING on its id
func (r *GormUsageEventRepository) Create(ctx context.Context, event *usage.UsageEvent) (bool, error) {
	m := models.UsageEventModelFromDomain(event)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(m)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByID finds a usage event by id
func (r *GormUsageEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*usage.UsageEvent, error) {
	var m models.UsageEventModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByUser lists a user's usage events
func (r *GormUsageEventRepository) FindByUser(ctx context.Context, userID string, filter shared.Filter) ([]*usage.UsageEvent, int64, error) {
	filter = filter.Normalize()
	query := r.db.WithContext(ctx).Model(&models.UsageEventModel{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.UsageEventModel
	err := query.
		Order(orderClause(filter, usageSortFields, "recorded_at")).
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	events := make([]*usage.UsageEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, total, nil
}

// FindRecordedBefore returns the oldest events recorded before the cutoff
func (r *GormUsageEventRepository) FindRecordedBefore(ctx context.Context, before time.Time, limit int) ([]*usage.UsageEvent, error) {
	var rows []models.UsageEventModel
	err := r.db.WithContext(ctx).
		Where("recorded_at < ?", before).
		Order("recorded_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]*usage.UsageEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, nil
}

// DeleteByIDs deletes usage events by id
func (r *GormUsageEventRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.UsageEventModel{})
	return result.RowsAffected, result.Error
}

var _ usage.Repository = (*GormUsageEventRepository)(nil)
