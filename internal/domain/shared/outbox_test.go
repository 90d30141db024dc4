package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subjectEvent struct {
	BaseDomainEvent
	subject string
}

func (e *subjectEvent) Subject() string { return e.subject }

func TestNewOutboxEntry(t *testing.T) {
	t.Run("uses the event type as subject by default", func(t *testing.T) {
		base := NewBaseDomainEvent("billing.calculated", "BillingRecord", uuid.New())
		entry := NewOutboxEntry(&base, []byte(`{}`))

		assert.Equal(t, base.ID, entry.EventID)
		assert.Equal(t, "billing.calculated", entry.Subject)
		assert.Equal(t, OutboxStatusPending, entry.Status)
		assert.Equal(t, DefaultMaxRetries, entry.MaxRetries)
		assert.Equal(t, 1, entry.DeliveryAttempt())
	})

	t.Run("uses the event subject when provided", func(t *testing.T) {
		ev := &subjectEvent{
			BaseDomainEvent: NewBaseDomainEvent("usage.recorded", "UsageEvent", uuid.New()),
			subject:         "usage.recorded.gpt-4",
		}
		entry := NewOutboxEntry(ev, nil)
		assert.Equal(t, "usage.recorded.gpt-4", entry.Subject)
		assert.Equal(t, "usage.recorded", entry.EventType)
	})
}

func TestOutboxEntry_MarkFailed(t *testing.T) {
	t.Run("schedules exponential retry", func(t *testing.T) {
		entry := &OutboxEntry{Status: OutboxStatusProcessing, MaxRetries: 5}

		entry.MarkFailed("boom")
		require.NotNil(t, entry.NextRetryAt)
		assert.Equal(t, OutboxStatusFailed, entry.Status)
		assert.Equal(t, 1, entry.RetryCount)
		assert.Equal(t, "boom", entry.LastError)
		assert.WithinDuration(t, time.Now().Add(time.Second), *entry.NextRetryAt, 500*time.Millisecond)
		assert.True(t, entry.CanRetry())

		entry.MarkFailed("boom again")
		assert.WithinDuration(t, time.Now().Add(2*time.Second), *entry.NextRetryAt, 500*time.Millisecond)
		assert.Equal(t, 3, entry.DeliveryAttempt())
	})

	t.Run("moves to dead letter after max retries", func(t *testing.T) {
		entry := &OutboxEntry{Status: OutboxStatusProcessing, MaxRetries: 2, RetryCount: 1}

		entry.MarkFailed("final")
		assert.True(t, entry.IsDead())
		assert.Nil(t, entry.NextRetryAt)
		assert.False(t, entry.CanRetry())
	})
}

func TestOutboxEntry_MarkProcessing(t *testing.T) {
	for _, status := range []OutboxStatus{OutboxStatusPending, OutboxStatusFailed} {
		entry := &OutboxEntry{Status: status}
		require.NoError(t, entry.MarkProcessing())
		assert.Equal(t, OutboxStatusProcessing, entry.Status)
	}

	for _, status := range []OutboxStatus{OutboxStatusSent, OutboxStatusDead, OutboxStatusProcessing} {
		entry := &OutboxEntry{Status: status}
		assert.Error(t, entry.MarkProcessing())
	}
}

func TestOutboxEntry_MarkSent(t *testing.T) {
	next := time.Now()
	entry := &OutboxEntry{Status: OutboxStatusProcessing, NextRetryAt: &next}
	entry.MarkSent()

	assert.Equal(t, OutboxStatusSent, entry.Status)
	assert.NotNil(t, entry.ProcessedAt)
	assert.Nil(t, entry.NextRetryAt)
}

func TestOutboxEntry_ResetForRetry(t *testing.T) {
	t.Run("resets dead letter entry for retry", func(t *testing.T) {
		entry := &OutboxEntry{
			ID:          uuid.New(),
			EventID:     uuid.New(),
			EventType:   "billing.error",
			AggregateID: uuid.New(),
			Status:      OutboxStatusDead,
			RetryCount:  5,
			MaxRetries:  5,
			LastError:   "some error",
			CreatedAt:   time.Now().Add(-time.Hour),
			UpdatedAt:   time.Now().Add(-time.Minute),
		}

		err := entry.ResetForRetry()
		assert.NoError(t, err)
		assert.Equal(t, OutboxStatusPending, entry.Status)
		assert.Equal(t, 0, entry.RetryCount)
		assert.Empty(t, entry.LastError)
		assert.True(t, entry.UpdatedAt.After(time.Now().Add(-time.Second)))
	})

	t.Run("fails for non-dead entry", func(t *testing.T) {
		for _, status := range []OutboxStatus{
			OutboxStatusPending,
			OutboxStatusProcessing,
			OutboxStatusSent,
			OutboxStatusFailed,
		} {
			entry := &OutboxEntry{ID: uuid.New(), Status: status}
			err := entry.ResetForRetry()
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Contains(t, err.Error(), "cannot move to PENDING")
		}
	})
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0))
	assert.Equal(t, time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(3))
	assert.Equal(t, MaxBackoff, Backoff(12))
	assert.Equal(t, MaxBackoff, Backoff(64))
}
