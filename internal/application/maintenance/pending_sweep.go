package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// PendingSweepJobName is the scheduler name of the pending settlement sweep
const PendingSweepJobName = "pending-settlement-sweep"

const (
	defaultPendingThreshold = time.Hour
	pendingSweepLimit       = 1000
	pendingSampleSize       = 20
)

// PendingMetrics receives the number of stuck billing records
type PendingMetrics interface {
	SetPendingRecords(n int)
}

// PendingSweep reports billing records that stayed pending past a threshold. Such a
// record usually means its billing.calculated delivery was dead-lettered.
type PendingSweep struct {
	records   billing.Repository
	threshold time.Duration
	metrics   PendingMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewPendingSweep creates the sweep job. metrics may be nil.
func NewPendingSweep(records billing.Repository, threshold time.Duration, metrics PendingMetrics, logger *zap.Logger) *PendingSweep {
	if threshold <= 0 {
		threshold = defaultPendingThreshold
	}
	return &PendingSweep{
		records:   records,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements scheduler.Job
func (s *PendingSweep) Name() string {
	return PendingSweepJobName
}

// Run counts the stuck records and logs a sample of them
func (s *PendingSweep) Run(ctx context.Context) error {
	before := s.now().UTC().Add(-s.threshold)
	stuck, err := s.records.FindPendingBefore(ctx, before, pendingSweepLimit)
	if err != nil {
		return fmt.Errorf("find pending billing records: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SetPendingRecords(len(stuck))
	}
	if len(stuck) == 0 {
		return nil
	}

	sample := make([]string, 0, min(len(stuck), pendingSampleSize))
	for _, r := range stuck[:cap(sample)] {
		sample = append(sample, r.ID.String())
	}
	s.logger.Warn("Billing records pending settlement past threshold",
		zap.Int("count", len(stuck)),
		zap.Bool("truncated", len(stuck) == pendingSweepLimit),
		zap.Duration("threshold", s.threshold),
		zap.Strings("sample_ids", sample),
	)
	return nil
}
