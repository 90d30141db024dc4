// Package usage records usage events and exposes them for reading.
package usage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/billflow/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Metrics receives recorder outcomes
type Metrics interface {
	UsageRecorded(ctx context.Context, productID, unitType string)
	UsageDuplicate(ctx context.Context, productID string)
}

type nopMetrics struct{}

func (nopMetrics) UsageRecorded(context.Context, string, string) {}
func (nopMetrics) UsageDuplicate(context.Context, string)        {}

// Recorder persists usage events and queues usage.recorded.<product_id> in the same
// transaction. It is the only producer of usage events.
type Recorder struct {
	scope    txn.Scope
	repo     usage.Repository
	validate *validator.Validate
	metrics  Metrics
	logger   *zap.Logger
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithMetrics sets the recorder metrics
func WithMetrics(m Metrics) RecorderOption {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRecorder creates a Recorder. repo serves reads outside a transaction.
func NewRecorder(scope txn.Scope, repo usage.Repository, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		scope:    scope,
		repo:     repo,
		validate: newValidator(),
		metrics:  nopMetrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordUsage validates and stores a usage event. Recording the same event twice
// returns the existing id and queues no second event.
func (r *Recorder) RecordUsage(ctx context.Context, in RecordUsageInput) (*RecordUsageResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "usage.record",
		attribute.String("user_id", in.UserID),
		attribute.String("product_id", in.ProductID),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	var event *usage.UsageEvent
	event, err = r.buildEvent(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("usage_event_id", event.ID.String()))

	created := false
	err = r.scope.Execute(ctx, func(repos txn.Repositories) error {
		ok, err := repos.UsageRepo().Create(ctx, event)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		created = true
		return repos.SaveEvents(ctx, event.ToRecordedEvent())
	})
	if err != nil {
		logger.L(ctx).Error("failed to record usage event",
			zap.String("usage_event_id", event.ID.String()),
			zap.Error(err),
		)
		err = shared.NewTransientIOError("record usage", err)
		return nil, err
	}

	if !created {
		r.metrics.UsageDuplicate(ctx, event.ProductID)
		logger.L(ctx).Info("usage event already recorded",
			zap.String("usage_event_id", event.ID.String()),
		)
		return &RecordUsageResult{UsageEventID: event.ID, Duplicate: true}, nil
	}

	r.metrics.UsageRecorded(ctx, event.ProductID, string(event.UnitType))
	logger.L(ctx).Info("usage event recorded",
		zap.String("usage_event_id", event.ID.String()),
		zap.String("user_id", event.UserID),
		zap.String("product_id", event.ProductID),
		zap.String("amount", event.Amount.String()),
	)
	return &RecordUsageResult{UsageEventID: event.ID}, nil
}

// GetUsageEvent returns a single usage event
func (r *Recorder) GetUsageEvent(ctx context.Context, id uuid.UUID) (*UsageEventResponse, error) {
	e, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToUsageEventResponse(e)
	return &resp, nil
}

// ListUsageEvents pages through a user's usage events
func (r *Recorder) ListUsageEvents(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[UsageEventResponse], error) {
	if strings.TrimSpace(userID) == "" {
		return shared.Paginated[UsageEventResponse]{}, shared.NewValidationError("user_id is required")
	}
	filter = filter.Normalize()
	events, total, err := r.repo.FindByUser(ctx, userID, filter)
	if err != nil {
		return shared.Paginated[UsageEventResponse]{}, err
	}
	items := make([]UsageEventResponse, len(events))
	for i, e := range events {
		items[i] = ToUsageEventResponse(e)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

func (r *Recorder) buildEvent(in RecordUsageInput) (*usage.UsageEvent, error) {
	if err := r.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	amount, err := usage.ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	params := usage.NewUsageEventParams{
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
		UserID:         in.UserID,
		ProductID:      in.ProductID,
		Amount:         amount,
		UnitType:       usage.UnitType(in.UnitType),
		UsageDetails:   in.UsageDetails,
	}
	if in.UsageEventID != "" {
		params.EventID = uuid.MustParse(in.UsageEventID)
	}
	if in.OccurredAt != nil {
		params.OccurredAt = *in.OccurredAt
	}
	return usage.NewUsageEvent(params)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return shared.NewValidationError(strings.Join(msgs, "; "))
}
