package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SettlementMetrics is the Prometheus view of settlement health scraped from /metrics
type SettlementMetrics struct {
	registry *prometheus.Registry

	settlements    *prometheus.CounterVec
	lockAcquire    *prometheus.CounterVec
	lockWait       prometheus.Histogram
	pendingRecords prometheus.Gauge
	outboxEntries  *prometheus.GaugeVec
	archived       prometheus.Counter
}

// NewSettlementMetrics creates the collectors on a private registry that also
// exposes the Go runtime and process collectors.
func NewSettlementMetrics(serviceName string) *SettlementMetrics {
	if serviceName == "" {
		serviceName = "billflow"
	}
	constLabels := prometheus.Labels{"service": serviceName}
	reg := prometheus.NewRegistry()

	m := &SettlementMetrics{
		registry: reg,
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billflow_wallet_settlements_total",
			Help:        "Billing record settlements by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billflow_wallet_lock_acquire_total",
			Help:        "Wallet lock acquisitions by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "billflow_wallet_lock_wait_seconds",
			Help:        "Time spent waiting for the wallet lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: constLabels,
		}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billflow_billing_pending_records",
			Help:        "Billing records left PENDING past the sweep threshold.",
			ConstLabels: constLabels,
		}),
		outboxEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "billflow_outbox_entries",
			Help:        "Outbox entries by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billflow_usage_archived_total",
			Help:        "Usage events written to the archive.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.settlements,
		m.lockAcquire,
		m.lockWait,
		m.pendingRecords,
		m.outboxEntries,
		m.archived,
	)
	return m
}

// Settlement counts a settlement outcome
func (m *SettlementMetrics) Settlement(outcome string) {
	m.settlements.WithLabelValues(outcome).Inc()
}

// LockAcquired records a lock attempt and its wait time
func (m *SettlementMetrics) LockAcquired(ok bool, waited time.Duration) {
	result := "acquired"
	if !ok {
		result = "failed"
	}
	m.lockAcquire.WithLabelValues(result).Inc()
	m.lockWait.Observe(waited.Seconds())
}

// SetPendingRecords sets the stale PENDING count found by the sweep
func (m *SettlementMetrics) SetPendingRecords(n int) {
	m.pendingRecords.Set(float64(n))
}

// SetOutboxEntries sets the gauge for each outbox status
func (m *SettlementMetrics) SetOutboxEntries(counts map[string]int64) {
	for status, n := range counts {
		m.outboxEntries.WithLabelValues(status).Set(float64(n))
	}
}

// Archived adds n archived usage events
func (m *SettlementMetrics) Archived(n int) {
	m.archived.Add(float64(n))
}

// Register adds extra collectors, such as the database pool stats, to the registry
func (m *SettlementMetrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry for tests
func (m *SettlementMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *SettlementMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
