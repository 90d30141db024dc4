// Package billing turns recorded usage into billing records.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/billflow/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CalculatorHandlerName is the durable consumer name of the calculator
const CalculatorHandlerName = "billing-calculator"

// Metrics receives calculator outcomes
type Metrics interface {
	BillingCalculated(ctx context.Context, productID, status string, cost decimal.Decimal, took time.Duration)
	BillingError(ctx context.Context, productID, code string)
}

type nopMetrics struct{}

func (nopMetrics) BillingCalculated(context.Context, string, string, decimal.Decimal, time.Duration) {
}
func (nopMetrics) BillingError(context.Context, string, string) {}

// CalculatorConfig holds the calculator tunables
type CalculatorConfig struct {
	// PricingTimeout bounds a single price lookup
	PricingTimeout time.Duration
	// DefaultTokenRate converts USD to tokens for products without a rate
	DefaultTokenRate decimal.Decimal
	// MaxAttempts is the delivery attempt after which transient failures become final
	MaxAttempts int
}

// Calculator handles usage.recorded events. For each usage event it resolves the price,
// computes the cost and stores one billing record together with billing.calculated.
type Calculator struct {
	scope    txn.Scope
	records  billing.Repository
	resolver pricing.Resolver
	cfg      CalculatorConfig
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// CalculatorOption configures a Calculator
type CalculatorOption func(*Calculator)

// WithMetrics sets the calculator metrics
func WithMetrics(m Metrics) CalculatorOption {
	return func(c *Calculator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCalculator creates a Calculator. records serves reads outside a transaction.
func NewCalculator(
	scope txn.Scope,
	records billing.Repository,
	resolver pricing.Resolver,
	cfg CalculatorConfig,
	logger *zap.Logger,
	opts ...CalculatorOption,
) *Calculator {
	if cfg.PricingTimeout <= 0 {
		cfg.PricingTimeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	c := &Calculator{
		scope:    scope,
		records:  records,
		resolver: resolver,
		cfg:      cfg,
		metrics:  nopMetrics{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandlerName returns the consumer name
func (c *Calculator) HandlerName() string {
	return CalculatorHandlerName
}

// EventTypes returns the event types this handler is interested in
func (c *Calculator) EventTypes() []string {
	return []string{usage.EventTypeUsageRecorded}
}

// Handle bills one usage event. Transient failures are retryable until the delivery
// budget runs out; every final failure is reported on billing.error.
func (c *Calculator) Handle(ctx context.Context, event shared.DomainEvent) error {
	ev, ok := event.(*usage.UsageRecordedEvent)
	if !ok {
		c.logger.Error("unexpected event type",
			zap.String("expected", usage.EventTypeUsageRecorded),
			zap.String("actual", event.EventType()),
		)
		return shared.Permanent(billing.ErrorCodeValidation,
			fmt.Errorf("unexpected event type: expected %s, got %s", usage.EventTypeUsageRecorded, event.EventType()))
	}

	ctx, span := telemetry.StartConsumerSpan(ctx, "billing.calculate",
		attribute.String("usage_event_id", ev.UsageEventID.String()),
		attribute.String("product_id", ev.ProductID),
		attribute.Int("delivery_attempt", shared.DeliveryAttempt(ctx)),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	telemetry.WithProfilingLabels(ctx, telemetry.StageLabels("calculate", ev.ProductID), func(ctx context.Context) {
		err = c.calculate(ctx, ev)
	})
	return err
}

func (c *Calculator) calculate(ctx context.Context, ev *usage.UsageRecordedEvent) error {
	start := c.now()
	log := logger.WithTraceContext(ctx, c.logger).With(
		zap.String("usage_event_id", ev.UsageEventID.String()),
		zap.String("user_id", ev.UserID),
		zap.String("product_id", ev.ProductID),
	)

	if err := ev.Validate(); err != nil {
		return c.fail(ctx, log, ev, billing.StageReceived, billing.ErrorCodeValidation, err, false)
	}

	_, err := c.records.FindByUsageEventID(ctx, ev.UsageEventID)
	if err == nil {
		log.Info("usage event already billed, skipping")
		return nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return c.fail(ctx, log, ev, billing.StageReceived, billing.ErrorCodeTransientIO, err, true)
	}

	quote, err := c.price(ctx, ev)
	if err != nil {
		code, retryable := classifyPricingError(err)
		return c.fail(ctx, log, ev, billing.StageReceived, code, err, retryable)
	}

	// the quota month is the one the usage happened in, not the one it is processed in
	from, to := billing.Period(ev.UsageOccurredAt)
	monthToDate := decimal.Zero
	if quote.FreeTierQuota.IsPositive() && !quote.IsIncludedInSubscription {
		monthToDate, err = c.records.SumUsage(ctx, ev.UserID, ev.ProductID, from, to)
		if err != nil {
			return c.fail(ctx, log, ev, billing.StagePriced, billing.ErrorCodeTransientIO, err, true)
		}
	}

	computation := billing.Compute(billing.CostInput{
		UsageAmount:      ev.Amount,
		Quote:            quote,
		MonthToDateUsage: monthToDate,
		DefaultTokenRate: c.cfg.DefaultTokenRate,
	})
	record := billing.NewBillingRecord(ev, quote.Currency, computation)

	created := false
	err = c.scope.Execute(ctx, func(repos txn.Repositories) error {
		ok, err := repos.BillingRepo().Create(ctx, record)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		created = true
		return repos.SaveEvents(ctx, billing.NewBillingCalculatedEvent(record))
	})
	if err != nil {
		return c.fail(ctx, log, ev, billing.StageComputed, billing.ErrorCodeTransientIO, err, true)
	}
	if !created {
		log.Info("billing record created by a concurrent delivery, skipping")
		return nil
	}

	took := c.now().Sub(start)
	c.metrics.BillingCalculated(ctx, ev.ProductID, record.Status.String(), record.CostUSD, took)
	log.Info("billing record created",
		zap.String("billing_record_id", record.ID.String()),
		zap.String("status", record.Status.String()),
		zap.String("cost_usd", record.CostUSD.String()),
		zap.String("token_equivalent", record.TokenEquivalent.String()),
		zap.Bool("free_tier", record.IsFreeTier),
		zap.Duration("took", took),
	)
	return nil
}

func (c *Calculator) price(ctx context.Context, ev *usage.UsageRecordedEvent) (*pricing.PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PricingTimeout)
	defer cancel()
	return c.resolver.GetPrice(ctx, pricing.PriceRequest{
		ProductID: ev.ProductID,
		UserID:    ev.UserID,
		At:        ev.UsageOccurredAt,
	})
}

func classifyPricingError(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return billing.ErrorCodeTimeout, true
	case errors.Is(err, pricing.ErrProductNotFound):
		return billing.ErrorCodeProductNotFound, false
	case errors.Is(err, shared.ErrValidation):
		return billing.ErrorCodeValidation, false
	case shared.IsTransient(err), errors.Is(err, context.Canceled):
		return billing.ErrorCodeTransientIO, true
	default:
		return billing.ErrorCodeInternal, true
	}
}

// fail decides the outcome of a failed attempt. Retryable failures are handed back to the
// bus until the attempt budget is spent; after that, and for permanent failures,
// billing.error is stored and the event is acknowledged.
func (c *Calculator) fail(
	ctx context.Context,
	log *zap.Logger,
	ev *usage.UsageRecordedEvent,
	stage billing.Stage,
	code string,
	cause error,
	retryable bool,
) error {
	attempt := shared.DeliveryAttempt(ctx)
	log = log.With(
		zap.String("stage", string(stage)),
		zap.String("error_code", code),
		zap.Int("attempt", attempt),
		zap.Error(cause),
	)

	if retryable && (attempt < c.cfg.MaxAttempts || ctx.Err() != nil) {
		log.Warn("billing attempt failed, will retry")
		return shared.Retryable(code, cause)
	}

	errEvent := billing.NewBillingErrorEvent(ev, code, cause.Error(), attempt-1)
	err := c.scope.Execute(ctx, func(repos txn.Repositories) error {
		return repos.SaveEvents(ctx, errEvent)
	})
	if err != nil {
		log.Error("failed to store billing.error", zap.NamedError("store_error", err))
		return shared.Retryable(billing.ErrorCodeTransientIO, errors.Join(cause, err))
	}

	c.metrics.BillingError(ctx, ev.ProductID, code)
	log.Error("usage event could not be billed")
	return shared.Permanent(code, cause)
}

var _ shared.NamedHandler = (*Calculator)(nil)
