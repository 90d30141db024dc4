// Package maintenance holds the periodic jobs run by the scheduler: usage retention,
// the pending settlement sweep and outbox gauges.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/infrastructure/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// UsageArchiverJobName is the scheduler name of the retention job
	UsageArchiverJobName = "usage-retention"

	defaultArchiveBatch = 500
	archiveContentType  = "application/x-ndjson"
)

// ArchiveMetrics receives the number of archived usage events
type ArchiveMetrics interface {
	Archived(n int)
}

// ArchiverConfig controls the retention job
type ArchiverConfig struct {
	// Retention is how long usage events stay in the database
	Retention time.Duration
	// BatchSize is the number of events per archive object
	BatchSize int
	// MaxBatches bounds a single run; zero means until the backlog is drained
	MaxBatches int
}

// UsageArchiver moves usage events older than the retention window to object storage
// as JSON lines, then deletes them. Billing records keep their usage_event_id.
type UsageArchiver struct {
	usages  usage.Repository
	store   storage.ObjectStorage
	cfg     ArchiverConfig
	metrics ArchiveMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewUsageArchiver creates the retention job. metrics may be nil.
func NewUsageArchiver(usages usage.Repository, store storage.ObjectStorage, cfg ArchiverConfig, metrics ArchiveMetrics, logger *zap.Logger) *UsageArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultArchiveBatch
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	return &UsageArchiver{
		usages:  usages,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Name implements scheduler.Job
func (a *UsageArchiver) Name() string {
	return UsageArchiverJobName
}

// Run archives batches until no event older than the cutoff is left. An object is
// written before its events are deleted, so a failed delete only re-archives the batch.
func (a *UsageArchiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	cutoff := now.Add(-a.cfg.Retention)
	total := 0

	for batch := 0; a.cfg.MaxBatches == 0 || batch < a.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := a.usages.FindRecordedBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("find usage events before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if len(events) == 0 {
			break
		}

		data, ids, err := encodeUsageEvents(events)
		if err != nil {
			return err
		}
		key := archiveKey(now, events[0].ID)
		if err := a.store.Put(ctx, key, data, archiveContentType); err != nil {
			return fmt.Errorf("archive usage events to %s: %w", key, err)
		}

		deleted, err := a.usages.DeleteByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete archived usage events: %w", err)
		}
		total += int(deleted)
		if a.metrics != nil {
			a.metrics.Archived(int(deleted))
		}
		a.logger.Info("Archived usage events",
			zap.String("key", key),
			zap.Int("count", len(events)),
			zap.Int64("deleted", deleted),
		)

		if len(events) < a.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		a.logger.Info("Usage retention finished",
			zap.Int("archived", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

// archivedUsage is the archive line format of a usage event
type archivedUsage struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ProductID      string            `json:"product_id"`
	Amount         string            `json:"amount"`
	UnitType       string            `json:"unit_type"`
	UsageDetails   map[string]string `json:"usage_details,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	RecordedAt     time.Time         `json:"recorded_at"`
}

func encodeUsageEvents(events []*usage.UsageEvent) ([]byte, []uuid.UUID, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		line := archivedUsage{
			ID:             ev.ID.String(),
			UserID:         ev.UserID,
			ProductID:      ev.ProductID,
			Amount:         ev.Amount.String(),
			UnitType:       string(ev.UnitType),
			UsageDetails:   ev.UsageDetails,
			OccurredAt:     ev.OccurredAt,
			IdempotencyKey: ev.IdempotencyKey,
			RecordedAt:     ev.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return nil, nil, fmt.Errorf("encode usage event %s: %w", ev.ID, err)
		}
		ids = append(ids, ev.ID)
	}
	return buf.Bytes(), ids, nil
}

// archiveKey partitions archives by run date; the first event id keeps re-runs of the
// same batch on the same object.
func archiveKey(runAt time.Time, firstID uuid.UUID) string {
	return fmt.Sprintf("usage/%s/%s.jsonl", runAt.Format("2006/01/02"), firstID)
}
