package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics are the OpenTelemetry instruments for usage recording, billing
// calculation and wallet settlement.
type PipelineMetrics struct {
	usageRecorded      *Counter
	usageDuplicates    *Counter
	billingCalculated  *Counter
	billingErrors      *Counter
	billingCost        *Histogram
	calculateDuration  *Histogram
	settlements        *Counter
	settlementDuration *Histogram

	scrape *SettlementMetrics
}

// NewPipelineMetrics creates the instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &PipelineMetrics{}
	var err error

	if m.usageRecorded, err = NewCounter(meter, "billflow_usage_recorded_total",
		"Usage events accepted by the recorder", "{events}"); err != nil {
		return nil, err
	}
	if m.usageDuplicates, err = NewCounter(meter, "billflow_usage_duplicates_total",
		"Usage recordings that matched an existing event", "{events}"); err != nil {
		return nil, err
	}
	if m.billingCalculated, err = NewCounter(meter, "billflow_billing_calculated_total",
		"Billing records created", "{records}"); err != nil {
		return nil, err
	}
	if m.billingErrors, err = NewCounter(meter, "billflow_billing_errors_total",
		"Billing calculation failures", "{errors}"); err != nil {
		return nil, err
	}
	if m.billingCost, err = NewHistogram(meter, "billflow_billing_cost_usd",
		"Cost of billing records", "USD", 0, 0.0001, 0.001, 0.01, 0.1, 1, 10, 100); err != nil {
		return nil, err
	}
	if m.calculateDuration, err = NewHistogram(meter, "billflow_billing_calculate_duration_seconds",
		"Time to price and record a usage event", "s", StageDurationBuckets...); err != nil {
		return nil, err
	}
	if m.settlements, err = NewCounter(meter, "billflow_settlements_total",
		"Settlement attempts by outcome", "{settlements}"); err != nil {
		return nil, err
	}
	if m.settlementDuration, err = NewHistogram(meter, "billflow_settlement_duration_seconds",
		"Time to settle a billing record", "s", StageDurationBuckets...); err != nil {
		return nil, err
	}
	return m, nil
}

// UsageRecorded counts a newly stored usage event
func (m *PipelineMetrics) UsageRecorded(ctx context.Context, productID, unitType string) {
	m.usageRecorded.Inc(ctx, AttrProductID.String(productID), AttrUnitType.String(unitType))
}

// UsageDuplicate counts a recording that resolved to an existing event
func (m *PipelineMetrics) UsageDuplicate(ctx context.Context, productID string) {
	m.usageDuplicates.Inc(ctx, AttrProductID.String(productID))
}

// BillingCalculated records a created billing record
func (m *PipelineMetrics) BillingCalculated(ctx context.Context, productID, status string, cost decimal.Decimal, took time.Duration) {
	attrs := []attribute.KeyValue{AttrProductID.String(productID), AttrStatus.String(status)}
	m.billingCalculated.Inc(ctx, attrs...)
	m.billingCost.Record(ctx, cost.InexactFloat64(), attrs...)
	m.calculateDuration.RecordDuration(ctx, took, attrs...)
}

// BillingError counts a failed calculation
func (m *PipelineMetrics) BillingError(ctx context.Context, productID, code string) {
	m.billingErrors.Inc(ctx, AttrProductID.String(productID), AttrErrorCode.String(code))
}

// Settlement records a settlement outcome such as charged, insufficient_balance or retry
func (m *PipelineMetrics) Settlement(ctx context.Context, outcome string, took time.Duration) {
	m.settlements.Inc(ctx, AttrOutcome.String(outcome))
	m.settlementDuration.RecordDuration(ctx, took, AttrOutcome.String(outcome))
	if m.scrape != nil {
		m.scrape.Settlement(outcome)
	}
}

// MirrorSettlements also counts settlement outcomes on the Prometheus registry
func (m *PipelineMetrics) MirrorSettlements(s *SettlementMetrics) *PipelineMetrics {
	m.scrape = s
	return m
}
