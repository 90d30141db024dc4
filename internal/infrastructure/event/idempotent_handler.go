package event

import (
	"context"
	"sync/atomic"

	"github.com/billflow/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// IdempotencyMetrics counts how wrapped handlers dealt with deliveries
type IdempotencyMetrics struct {
	EventsProcessed atomic.Int64
	EventsDuplicate atomic.Int64
	EventsFailed    atomic.Int64
}

// Stats returns a snapshot of the counters
func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		EventsProcessed: m.EventsProcessed.Load(),
		EventsDuplicate: m.EventsDuplicate.Load(),
		EventsFailed:    m.EventsFailed.Load(),
	}
}

// IdempotencyStats is a snapshot of IdempotencyMetrics
type IdempotencyStats struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsDuplicate int64 `json:"events_duplicate"`
	EventsFailed    int64 `json:"events_failed"`
}

// IdempotentHandler puts a fast-path duplicate check in front of a handler.
// The handlers themselves stay idempotent against the database; the store only
// saves a round trip for redeliveries of events that already succeeded.
type IdempotentHandler struct {
	handler shared.EventHandler
	name    string
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	metrics *IdempotencyMetrics
}

// IdempotentHandlerOption configures an IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig sets TTL and the enabled flag
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.config = config
	}
}

// WithIdempotencyMetrics shares a metrics collector between handlers
func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.metrics = metrics
	}
}

// NewIdempotentHandler wraps handler. Keys are scoped by handler name so that two
// consumers of the same event do not shadow each other.
func NewIdempotentHandler(
	handler shared.EventHandler,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentHandlerOption,
) *IdempotentHandler {
	h := &IdempotentHandler{
		handler: handler,
		name:    handlerName(handler),
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		logger:  logger,
		metrics: &IdempotencyMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EventTypes delegates to the wrapped handler
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// HandlerName delegates to the wrapped handler
func (h *IdempotentHandler) HandlerName() string {
	return h.name
}

// Handle skips events already recorded as handled and records an event only once
// the wrapped handler has finished with it. A delivery that fails, panics or runs
// out of time leaves nothing behind, so its redelivery is processed.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, event)
	}

	key := h.key(event)
	seen, err := h.store.IsProcessed(ctx, key)
	if err != nil {
		h.logger.Warn("idempotency store unavailable, processing anyway",
			zap.String("key", key),
			zap.Error(err),
		)
	} else if seen {
		h.metrics.EventsDuplicate.Add(1)
		h.logger.Debug("duplicate delivery skipped",
			zap.String("key", key),
			zap.String("event_type", event.EventType()),
		)
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		h.metrics.EventsFailed.Add(1)
		if !shared.IsRetryable(err) {
			h.remember(ctx, key)
		}
		return err
	}

	h.metrics.EventsProcessed.Add(1)
	h.remember(ctx, key)
	return nil
}

// remember records key on a context detached from the delivery deadline; the
// handler's work is already committed by then.
func (h *IdempotentHandler) remember(ctx context.Context, key string) {
	if _, err := h.store.MarkProcessed(context.WithoutCancel(ctx), key, h.config.TTL); err != nil {
		h.logger.Warn("failed to record handled event",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// GetMetrics returns the metrics for this handler
func (h *IdempotentHandler) GetMetrics() *IdempotencyMetrics {
	return h.metrics
}

// Unwrap returns the wrapped handler
func (h *IdempotentHandler) Unwrap() shared.EventHandler {
	return h.handler
}

func (h *IdempotentHandler) key(event shared.DomainEvent) string {
	return shared.IdempotencyKey(h.name, event.EventID())
}

var (
	_ shared.EventHandler = (*IdempotentHandler)(nil)
	_ shared.NamedHandler = (*IdempotentHandler)(nil)
)
