package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[string]*pricing.Product
	finds    int
	saves    int
}

func (f *fakeProductRepo) FindByID(_ context.Context, id string) (*pricing.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	p, ok := f.products[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductRepo) Save(_ context.Context, p *pricing.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.products[p.ID] = p
	return nil
}

// unreachableRedis returns a client whose every command fails fast
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedProductRepository_FallsThroughWhenRedisIsDown(t *testing.T) {
	product, err := pricing.NewProduct("gpt-4o", "GPT-4o", usage.UnitTypeToken, decimal.RequireFromString("0.00003"))
	require.NoError(t, err)
	inner := &fakeProductRepo{products: map[string]*pricing.Product{product.ID: product}}

	core, logs := observer.New(zap.WarnLevel)
	repo := NewCachedProductRepository(inner, unreachableRedis(t), time.Minute, zap.New(core))
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o", got.Name)
	assert.True(t, got.UnitPrice.Equal(product.UnitPrice))
	assert.Equal(t, 1, inner.finds)
	assert.GreaterOrEqual(t, logs.FilterMessage("product cache read failed").Len(), 1)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, repo.Save(ctx, product))
	assert.Equal(t, 1, inner.saves)
	assert.Equal(t, 1, logs.FilterMessage("product cache invalidation failed").Len())
}

func TestNewIdempotencyStore(t *testing.T) {
	logger := zap.NewNop()

	s, err := NewIdempotencyStore(StoreMemory, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryIdempotencyStore{}, s)
	_ = s.Close()

	_, err = NewIdempotencyStore(StoreRedis, nil, logger)
	assert.Error(t, err)

	s, err = NewIdempotencyStore(StoreRedis, unreachableRedis(t), logger)
	require.NoError(t, err)
	assert.IsType(t, &RedisIdempotencyStore{}, s)

	_, err = NewIdempotencyStore("etcd", nil, logger)
	assert.Error(t, err)
}

func TestRedisIdempotencyStore_PropagatesErrors(t *testing.T) {
	store := NewRedisIdempotencyStore(unreachableRedis(t), "")
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "e1", time.Minute)
	assert.Error(t, err)
	_, err = store.IsProcessed(ctx, "e1")
	assert.Error(t, err)
	assert.Error(t, store.Release(ctx, "e1"))
	assert.NoError(t, store.Close())
}
