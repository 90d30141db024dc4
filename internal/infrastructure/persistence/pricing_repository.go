package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProductRepository implements pricing.ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindByID finds a product by id
func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*pricing.Product, error) {
	var m models.ProductModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save creates or replaces a product
func (r *GormProductRepository) Save(ctx context.Context, product *pricing.Product) error {
	product.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.ProductModelFromDomain(product)).Error
}

// GormSubscriptionRepository implements pricing.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByID finds a subscription by id
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*pricing.Subscription, error) {
	var m models.SubscriptionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindActiveByUser returns the user's active subscriptions whose period contains at
func (r *GormSubscriptionRepository) FindActiveByUser(ctx context.Context, userID string, at time.Time) ([]*pricing.Subscription, error) {
	var rows []models.SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND current_period_start <= ? AND current_period_end > ?",
			userID, pricing.SubscriptionStatusActive, at, at).
		Order("current_period_start DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	subs := make([]*pricing.Subscription, len(rows))
	for i := range rows {
		subs[i] = rows[i].ToDomain()
	}
	return subs, nil
}

// Save creates or replaces a subscription
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *pricing.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = sub.UpdatedAt
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.SubscriptionModelFromDomain(sub)).Error
}

var (
	_ pricing.ProductRepository      = (*GormProductRepository)(nil)
	_ pricing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
)
