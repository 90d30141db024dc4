package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeIdempotencyStore honours ctx the way a network-backed store does
type fakeIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: make(map[string]bool)}
}

func (s *fakeIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *fakeIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.keys[key], nil
}

func (s *fakeIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.keys, key)
	return nil
}

func (s *fakeIdempotencyStore) Close() error { return nil }

func (s *fakeIdempotencyStore) check(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func (s *fakeIdempotencyStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// slowHandler blocks until the delivery deadline passes unless released
type slowHandler struct {
	release chan struct{}
	calls   atomic.Int32
}

func (h *slowHandler) Handle(ctx context.Context, _ shared.DomainEvent) error {
	h.calls.Add(1)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return shared.Retryable("TIMEOUT", ctx.Err())
	}
}

func (h *slowHandler) EventTypes() []string { return []string{"usage.recorded"} }
func (h *slowHandler) HandlerName() string  { return "slow" }

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	store := newFakeIdempotencyStore()
	h := NewIdempotentHandler(inner, store, zap.NewNop())

	event := newTestEvent("usage.recorded")
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))

	assert.Equal(t, 1, inner.count())
	stats := h.GetMetrics().Stats()
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(1), stats.EventsDuplicate)
}

func TestIdempotentHandler_KeyIsScopedByHandler(t *testing.T) {
	store := newFakeIdempotencyStore()
	billing := newTestHandler("usage.recorded")
	billing.name = "billing-calculator"
	audit := newTestHandler("usage.recorded")
	audit.name = "audit"

	event := newTestEvent("usage.recorded")
	require.NoError(t, NewIdempotentHandler(billing, store, zap.NewNop()).Handle(context.Background(), event))
	require.NoError(t, NewIdempotentHandler(audit, store, zap.NewNop()).Handle(context.Background(), event))

	assert.Equal(t, 1, billing.count())
	assert.Equal(t, 1, audit.count())
	assert.True(t, store.keys["billing-calculator:"+event.EventID().String()])
}

func TestIdempotentHandler_RetryableFailureLeavesNoKey(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	inner.err = shared.Retryable("TRANSIENT_IO", errors.New("timeout"))
	store := newFakeIdempotencyStore()
	h := NewIdempotentHandler(inner, store, zap.NewNop())

	event := newTestEvent("usage.recorded")
	require.Error(t, h.Handle(context.Background(), event))
	assert.Empty(t, store.keys)

	inner.err = nil
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Equal(t, 2, inner.count(), "redelivery after a transient failure is processed")
	assert.True(t, store.has(h.key(event)))
}

func TestIdempotentHandler_PermanentFailureKeepsKey(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	inner.err = shared.Permanent("VALIDATION_ERROR", errors.New("bad"))
	store := newFakeIdempotencyStore()
	h := NewIdempotentHandler(inner, store, zap.NewNop())

	event := newTestEvent("usage.recorded")
	require.Error(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Equal(t, 1, inner.count())
}

func TestIdempotentHandler_StoreErrorFallsThrough(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	store := newFakeIdempotencyStore()
	store.err = errors.New("redis unavailable")
	h := NewIdempotentHandler(inner, store, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), newTestEvent("usage.recorded")))
	assert.Equal(t, 1, inner.count())
}

func TestIdempotentHandler_Disabled(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	h := NewIdempotentHandler(inner, newFakeIdempotencyStore(), zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}))

	event := newTestEvent("usage.recorded")
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Equal(t, 2, inner.count())
	assert.Equal(t, "test-handler", h.HandlerName())
	assert.Equal(t, []string{"usage.recorded"}, h.EventTypes())
}

func TestIdempotentHandler_PanicIsRedelivered(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	inner.panicMsg = "boom"
	store := newFakeIdempotencyStore()
	bus := NewInMemoryEventBus(zap.NewNop())
	h := NewIdempotentHandler(inner, store, zap.NewNop())
	bus.Subscribe(h)

	event := newTestEvent("usage.recorded")
	err := bus.Publish(context.Background(), event)
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.False(t, store.has(h.key(event)))

	inner.panicMsg = ""
	require.NoError(t, bus.Publish(context.Background(), event))
	assert.Equal(t, 1, inner.count())
	assert.True(t, store.has(h.key(event)))
}

func TestIdempotentHandler_TimeoutIsRedelivered(t *testing.T) {
	inner := &slowHandler{release: make(chan struct{})}
	store := newFakeIdempotencyStore()
	h := NewIdempotentHandler(inner, store, zap.NewNop())
	event := newTestEvent("usage.recorded")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Handle(ctx, event)
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.False(t, store.has(h.key(event)))

	close(inner.release)
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.True(t, store.has(h.key(event)))
}

func TestIdempotentHandler_RecordsOnDetachedContext(t *testing.T) {
	inner := newTestHandler("usage.recorded")
	store := newFakeIdempotencyStore()
	event := newTestEvent("usage.recorded")

	// the handler finishes, then the delivery context ends before the key is written
	ctx, cancel := context.WithCancel(context.Background())
	h := NewIdempotentHandler(cancelAfter{inner, cancel}, store, zap.NewNop())
	require.NoError(t, h.Handle(ctx, event))
	assert.True(t, store.has(h.key(event)))
	assert.Equal(t, 1, inner.count())
}

// cancelAfter cancels the delivery context once the wrapped handler returns
type cancelAfter struct {
	*testHandler
	cancel context.CancelFunc
}

func (c cancelAfter) Handle(ctx context.Context, event shared.DomainEvent) error {
	defer c.cancel()
	return c.testHandler.Handle(ctx, event)
}

func (c cancelAfter) HandlerName() string { return "cancelling" }
