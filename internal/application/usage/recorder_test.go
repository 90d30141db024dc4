package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/billflow/backend/internal/application/txn/txntest"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMetrics struct {
	recorded   int
	duplicates int
}

func (m *countingMetrics) UsageRecorded(context.Context, string, string) { m.recorded++ }
func (m *countingMetrics) UsageDuplicate(context.Context, string)        { m.duplicates++ }

func newRecorder(t *testing.T) (*Recorder, *txntest.Store, *countingMetrics) {
	t.Helper()
	store := txntest.NewStore()
	metrics := &countingMetrics{}
	return NewRecorder(store, store.UsageRepo(), zap.NewNop(), WithMetrics(metrics)), store, metrics
}

func validInput() RecordUsageInput {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return RecordUsageInput{
		UserID:       "user-1",
		ProductID:    "gpt-4o",
		Amount:       "1500",
		UnitType:     "token",
		UsageDetails: map[string]string{"model": "gpt-4o"},
		OccurredAt:   &at,
	}
}

func TestRecorder_RecordUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the event and queues usage.recorded", func(t *testing.T) {
		r, store, metrics := newRecorder(t)

		res, err := r.RecordUsage(ctx, validInput())
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.NotEqual(t, uuid.Nil, res.UsageEventID)

		events := store.EventsOfType(usage.EventTypeUsageRecorded)
		require.Len(t, events, 1)
		recorded := events[0].(*usage.UsageRecordedEvent)
		assert.Equal(t, res.UsageEventID, recorded.UsageEventID)
		assert.Equal(t, "usage.recorded.gpt-4o", recorded.Subject())
		assert.Equal(t, "1500", recorded.Amount.String())
		assert.Equal(t, 1, metrics.recorded)
	})

	t.Run("recording the same usage twice yields one event", func(t *testing.T) {
		r, store, metrics := newRecorder(t)

		first, err := r.RecordUsage(ctx, validInput())
		require.NoError(t, err)
		second, err := r.RecordUsage(ctx, validInput())
		require.NoError(t, err)

		assert.Equal(t, first.UsageEventID, second.UsageEventID)
		assert.True(t, second.Duplicate)
		assert.Len(t, store.Events(), 1)
		assert.Equal(t, 1, metrics.duplicates)
	})

	t.Run("idempotency key decides identity", func(t *testing.T) {
		r, _, _ := newRecorder(t)

		in := validInput()
		in.IdempotencyKey = "req-42"
		first, err := r.RecordUsage(ctx, in)
		require.NoError(t, err)

		in.Amount = "2000"
		second, err := r.RecordUsage(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.UsageEventID, second.UsageEventID)
		assert.True(t, second.Duplicate)
	})

	t.Run("caller supplied id is kept", func(t *testing.T) {
		r, _, _ := newRecorder(t)
		id := uuid.New()
		in := validInput()
		in.UsageEventID = id.String()

		res, err := r.RecordUsage(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, id, res.UsageEventID)
	})

	t.Run("zero amount is accepted", func(t *testing.T) {
		r, _, _ := newRecorder(t)
		in := validInput()
		in.Amount = "0"
		_, err := r.RecordUsage(ctx, in)
		assert.NoError(t, err)
	})
}

func TestRecorder_RecordUsage_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RecordUsageInput)
		want   string
	}{
		{"missing user", func(in *RecordUsageInput) { in.UserID = "" }, "user_id"},
		{"missing product", func(in *RecordUsageInput) { in.ProductID = "" }, "product_id"},
		{"unknown unit", func(in *RecordUsageInput) { in.UnitType = "litre" }, "unit_type"},
		{"malformed amount", func(in *RecordUsageInput) { in.Amount = "1.2.3" }, "not a decimal"},
		{"negative amount", func(in *RecordUsageInput) { in.Amount = "-5" }, "negative"},
		{"bad event id", func(in *RecordUsageInput) { in.UsageEventID = "nope" }, "usage_event_id"},
		{"blank user", func(in *RecordUsageInput) { in.UserID = "   " }, "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _ := newRecorder(t)
			in := validInput()
			tt.mutate(&in)

			_, err := r.RecordUsage(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, store.Events())
		})
	}
}

func TestRecorder_RecordUsage_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("store failure is transient and leaves nothing behind", func(t *testing.T) {
		r, store, _ := newRecorder(t)
		store.FailOn("usage.Create", errors.New("connection refused"))

		_, err := r.RecordUsage(ctx, validInput())
		require.Error(t, err)
		assert.True(t, shared.IsTransient(err))
		assert.ErrorIs(t, err, shared.ErrTransientIO)
		assert.Empty(t, store.Events())
	})

	t.Run("outbox failure rolls back the usage row", func(t *testing.T) {
		r, store, _ := newRecorder(t)
		store.FailOn("outbox.SaveEvents", errors.New("outbox down"))

		_, err := r.RecordUsage(ctx, validInput())
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrTransientIO)

		// the retry is not mistaken for a duplicate
		res, err := r.RecordUsage(ctx, validInput())
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Len(t, store.Events(), 1)
	})
}

func TestRecorder_Reads(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRecorder(t)

	res, err := r.RecordUsage(ctx, validInput())
	require.NoError(t, err)
	other := validInput()
	other.Amount = "10"
	_, err = r.RecordUsage(ctx, other)
	require.NoError(t, err)

	got, err := r.GetUsageEvent(ctx, res.UsageEventID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "gpt-4o", got.UsageDetails["model"])

	_, err = r.GetUsageEvent(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	page, err := r.ListUsageEvents(ctx, "user-1", shared.Filter{Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Items, 1)

	_, err = r.ListUsageEvents(ctx, "", shared.Filter{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
