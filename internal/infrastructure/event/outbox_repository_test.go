package event

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEntryModel{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormOutboxRepository_SaveIgnoresDuplicateEvent(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	ev := newTestEvent("test.event")
	require.NoError(t, repo.Save(ctx, shared.NewOutboxEntry(ev, []byte(`{}`))))
	require.NoError(t, repo.Save(ctx, shared.NewOutboxEntry(ev, []byte(`{}`))))

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, ev.EventID(), pending[0].EventID)
}

func TestGormOutboxRepository_MarkProcessingClaimsOnce(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	entry := shared.NewOutboxEntry(newTestEvent("test.event"), []byte(`{}`))
	require.NoError(t, repo.Save(ctx, entry))

	claimed, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, shared.OutboxStatusProcessing, claimed[0].Status)

	again, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGormOutboxRepository_RetryAndDeadLifecycle(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	entry := shared.NewOutboxEntry(newTestEvent("test.event"), []byte(`{}`))
	entry.MaxRetries = 2
	require.NoError(t, repo.Save(ctx, entry))

	entry.MarkFailed("first")
	require.NoError(t, repo.Update(ctx, entry))

	due, err := repo.FindRetryable(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	notYet, err := repo.FindRetryable(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	entry.MarkFailed("second")
	require.NoError(t, repo.Update(ctx, entry))

	dead, total, err := repo.FindDead(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, dead, 1)
	assert.Equal(t, "second", dead[0].LastError)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[shared.OutboxStatusDead])
}

func TestGormOutboxRepository_ReclaimStale(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	entry := shared.NewOutboxEntry(newTestEvent("test.event"), []byte(`{}`))
	require.NoError(t, repo.Save(ctx, entry))
	claimed, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := repo.ReclaimStale(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "a live claim is left alone")

	n, err = repo.ReclaimStale(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.ID, pending[0].ID)
	assert.Equal(t, "processing lease expired", pending[0].LastError)
}

func TestGormOutboxRepository_FindByIDNotFound(t *testing.T) {
	repo := NewGormOutboxRepository(setupOutboxDB(t))
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormOutboxRepository_DeleteOlderThan(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	sent := shared.NewOutboxEntry(newTestEvent("test.event"), []byte(`{}`))
	pending := shared.NewOutboxEntry(newTestEvent("test.event"), []byte(`{}`))
	require.NoError(t, repo.Save(ctx, sent, pending))

	sent.MarkSent()
	require.NoError(t, repo.Update(ctx, sent))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, pending.ID)
	assert.NoError(t, err)
}

func TestOutboxPublisher_SaveEventsRequiresGormTx(t *testing.T) {
	p := NewOutboxPublisher(NewEventSerializer())
	err := p.SaveEvents(context.Background(), "not-a-tx", newTestEvent("test.event"))
	assert.ErrorContains(t, err, "outbox: unsupported transaction string")
}

func TestOutboxPublisher_PublishWithTx(t *testing.T) {
	db := setupOutboxDB(t)
	p := NewOutboxPublisher(NewEventSerializer())
	ev := newTestEvent("test.event")

	err := db.Transaction(func(tx *gorm.DB) error {
		return p.SaveEvents(context.Background(), tx, ev)
	})
	require.NoError(t, err)

	pending, err := NewGormOutboxRepository(db).FindPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "test.event", pending[0].Subject)
	assert.JSONEq(t, `"payload"`, extractField(t, pending[0].Payload, "data"))
}

func extractField(t *testing.T, payload []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	return string(m[field])
}

func TestOutboxPublisher_RetryBudget(t *testing.T) {
	db := setupOutboxDB(t)
	serializer := NewEventSerializer()
	serializer.Register("test.event", &testEvent{})
	ctx := context.Background()

	t.Run("default retry budget", func(t *testing.T) {
		ev := newTestEvent("test.event")
		require.NoError(t, NewOutboxPublisher(serializer).PublishWithTx(ctx, db, ev))

		var row models.OutboxEntryModel
		require.NoError(t, db.Where("event_id = ?", ev.EventID()).First(&row).Error)
		assert.Equal(t, shared.DefaultMaxRetries, row.MaxRetries)
		assert.Equal(t, string(shared.OutboxStatusPending), string(row.Status))
	})

	t.Run("configured retry budget", func(t *testing.T) {
		ev := newTestEvent("test.event")
		require.NoError(t, NewOutboxPublisher(serializer).WithMaxRetries(9).PublishWithTx(ctx, db, ev))

		var row models.OutboxEntryModel
		require.NoError(t, db.Where("event_id = ?", ev.EventID()).First(&row).Error)
		assert.Equal(t, 9, row.MaxRetries)
	})

	t.Run("non-positive budget keeps the default", func(t *testing.T) {
		ev := newTestEvent("test.event")
		require.NoError(t, NewOutboxPublisher(serializer).WithMaxRetries(0).PublishWithTx(ctx, db, ev))

		var row models.OutboxEntryModel
		require.NoError(t, db.Where("event_id = ?", ev.EventID()).First(&row).Error)
		assert.Equal(t, shared.DefaultMaxRetries, row.MaxRetries)
	})
}
