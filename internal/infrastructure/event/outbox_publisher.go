package event

import (
	"context"
	"fmt"

	"github.com/billflow/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// OutboxPublisher stages events in outbox_events on the caller's transaction.
// Nothing reaches the bus until the transaction commits and the processor relays it.
type OutboxPublisher struct {
	serializer *EventSerializer
	maxRetries int
}

// NewOutboxPublisher creates a new outbox publisher
func NewOutboxPublisher(serializer *EventSerializer) *OutboxPublisher {
	return &OutboxPublisher{serializer: serializer}
}

// WithMaxRetries sets the relay budget of staged entries. n <= 0 keeps the default.
func (p *OutboxPublisher) WithMaxRetries(n int) *OutboxPublisher {
	p.maxRetries = n
	return p
}

// PublishWithTx stages events through tx
func (p *OutboxPublisher) PublishWithTx(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	entries, err := p.stage(events)
	if err != nil || len(entries) == 0 {
		return err
	}
	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

// SaveEvents implements shared.OutboxEventSaver for GORM transactions
func (p *OutboxPublisher) SaveEvents(ctx context.Context, txProvider any, events ...shared.DomainEvent) error {
	switch tx := txProvider.(type) {
	case *gorm.DB:
		return p.PublishWithTx(ctx, tx, events...)
	default:
		return fmt.Errorf("outbox: unsupported transaction %T", txProvider)
	}
}

func (p *OutboxPublisher) stage(events []shared.DomainEvent) ([]*shared.OutboxEntry, error) {
	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, event := range events {
		payload, err := p.serializer.Serialize(event)
		if err != nil {
			return nil, fmt.Errorf("outbox: stage %s: %w", event.EventType(), err)
		}
		entry := shared.NewOutboxEntry(event, payload)
		if p.maxRetries > 0 {
			entry.MaxRetries = p.maxRetries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var _ shared.OutboxEventSaver = (*OutboxPublisher)(nil)
