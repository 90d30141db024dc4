package maintenance

import (
	"context"
	"fmt"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/infrastructure/scheduler"
)

// OutboxGaugeJobName is the scheduler name of the outbox gauge refresh
const OutboxGaugeJobName = "outbox-gauge"

// OutboxMetrics receives outbox entry counts by status
type OutboxMetrics interface {
	SetOutboxEntries(counts map[string]int64)
}

// NewOutboxGauge returns a job publishing outbox counts by status. Statuses with no
// entries are reported as zero so gauges drop back after a backlog clears.
func NewOutboxGauge(outbox shared.OutboxRepository, metrics OutboxMetrics) scheduler.JobFunc {
	return scheduler.JobFunc{
		JobName: OutboxGaugeJobName,
		Fn: func(ctx context.Context) error {
			counts, err := outbox.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("count outbox entries: %w", err)
			}
			out := map[string]int64{
				string(shared.OutboxStatusPending):    0,
				string(shared.OutboxStatusProcessing): 0,
				string(shared.OutboxStatusSent):       0,
				string(shared.OutboxStatusFailed):     0,
				string(shared.OutboxStatusDead):       0,
			}
			for status, n := range counts {
				out[string(status)] = n
			}
			metrics.SetOutboxEntries(out)
			return nil
		},
	}
}
