package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the relay state of an outbox entry.
//
//	PENDING -> PROCESSING -> SENT
//	                      -> FAILED -> PROCESSING ...
//	                      -> DEAD   -> PENDING (operator requeue)
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

// Relay retry policy
const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = time.Second
	MaxBackoff         = 5 * time.Minute
)

// OutboxEntry is a serialized domain event written in the same transaction as the
// state change that produced it. Subject is the broker subject it is published on.
type OutboxEntry struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	EventType     string
	Subject       string
	AggregateID   uuid.UUID
	AggregateType string
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	LastError     string
	NextRetryAt   *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOutboxEntry wraps an already serialized event
func NewOutboxEntry(event DomainEvent, payload []byte) *OutboxEntry {
	e := &OutboxEntry{
		ID:            uuid.New(),
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		Subject:       SubjectOf(event),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Payload:       payload,
		Status:        OutboxStatusPending,
		MaxRetries:    DefaultMaxRetries,
	}
	e.CreatedAt = e.touch()
	return e
}

func (e *OutboxEntry) touch() time.Time {
	e.UpdatedAt = time.Now().UTC()
	return e.UpdatedAt
}

func (e *OutboxEntry) transitionError(to OutboxStatus) error {
	return fmt.Errorf("%w: outbox entry %s is %s, cannot move to %s", ErrInvalidState, e.ID, e.Status, to)
}

// DeliveryAttempt is the 1-based attempt number of the next relay
func (e *OutboxEntry) DeliveryAttempt() int {
	return e.RetryCount + 1
}

// CanRetry reports whether a failed entry still has budget left
func (e *OutboxEntry) CanRetry() bool {
	return e.Status == OutboxStatusFailed && e.RetryCount < e.MaxRetries
}

// IsDead reports whether the entry is parked for operators
func (e *OutboxEntry) IsDead() bool {
	return e.Status == OutboxStatusDead
}

// MarkProcessing claims a pending or failed entry
func (e *OutboxEntry) MarkProcessing() error {
	switch e.Status {
	case OutboxStatusPending, OutboxStatusFailed:
		e.Status = OutboxStatusProcessing
		e.touch()
		return nil
	}
	return e.transitionError(OutboxStatusProcessing)
}

// MarkSent records a successful relay
func (e *OutboxEntry) MarkSent() {
	now := e.touch()
	e.Status = OutboxStatusSent
	e.ProcessedAt = &now
	e.NextRetryAt = nil
}

// MarkFailed records a failed relay and schedules the next attempt. Once the retry
// budget is spent the entry goes DEAD and is only relayed again after a requeue.
func (e *OutboxEntry) MarkFailed(errMsg string) {
	now := e.touch()
	e.RetryCount++
	e.LastError = errMsg
	e.NextRetryAt = nil

	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDead
		return
	}
	e.Status = OutboxStatusFailed
	next := now.Add(Backoff(e.RetryCount))
	e.NextRetryAt = &next
}

// ResetForRetry requeues a dead entry with a fresh budget
func (e *OutboxEntry) ResetForRetry() error {
	if e.Status != OutboxStatusDead {
		return e.transitionError(OutboxStatusPending)
	}
	e.Status = OutboxStatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.touch()
	return nil
}

// Backoff is the delay after the given number of consecutive failures,
// doubling from DefaultBaseBackoff and capped at MaxBackoff
func Backoff(failures int) time.Duration {
	switch {
	case failures < 1:
		return 0
	case failures > 16:
		return MaxBackoff
	}
	return min(DefaultBaseBackoff<<(failures-1), MaxBackoff)
}

// OutboxRepository stores outbox entries for the relay
type OutboxRepository interface {
	Save(ctx context.Context, entries ...*OutboxEntry) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// FindRetryable returns FAILED entries whose next attempt is due at before
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*OutboxEntry, error)
	FindDead(ctx context.Context, page, pageSize int) ([]*OutboxEntry, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error)
	// MarkProcessing claims entries and returns only the ones this caller won
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*OutboxEntry, error)
	Update(ctx context.Context, entry *OutboxEntry) error
	// ReclaimStale returns PROCESSING entries last touched before the cutoff to PENDING.
	// Such entries were claimed by a relay that never recorded the outcome.
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	// DeleteOlderThan removes SENT entries processed before the cutoff
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
