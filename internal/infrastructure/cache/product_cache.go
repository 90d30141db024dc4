package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const productKeyPrefix = "billflow:product:"

// CachedProductRepository reads products through Redis. Cache failures are logged
// and fall through to the wrapped repository; they never fail a lookup.
type CachedProductRepository struct {
	next   pricing.ProductRepository
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProductRepository wraps next with a read-through cache
func NewCachedProductRepository(next pricing.ProductRepository, client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedProductRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProductRepository{next: next, client: client, ttl: ttl, logger: logger}
}

// FindByID returns the cached product or loads and caches it
func (r *CachedProductRepository) FindByID(ctx context.Context, id string) (*pricing.Product, error) {
	key := productKeyPrefix + id

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p pricing.Product
		if uerr := json.Unmarshal(raw, &p); uerr == nil {
			return &p, nil
		}
		r.logger.Warn("discarding undecodable cached product", zap.String("product_id", id))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	p, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, merr := json.Marshal(p); merr == nil {
		if serr := r.client.Set(ctx, key, data, r.ttl).Err(); serr != nil {
			r.logger.Warn("product cache write failed", zap.String("product_id", id), zap.Error(serr))
		}
	}
	return p, nil
}

// Save writes through and invalidates the cached entry
func (r *CachedProductRepository) Save(ctx context.Context, product *pricing.Product) error {
	if err := r.next.Save(ctx, product); err != nil {
		return err
	}
	if err := r.client.Del(ctx, productKeyPrefix+product.ID).Err(); err != nil {
		r.logger.Warn("product cache invalidation failed", zap.String("product_id", product.ID), zap.Error(err))
	}
	return nil
}

var _ pricing.ProductRepository = (*CachedProductRepository)(nil)
