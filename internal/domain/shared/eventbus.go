package shared

import "context"

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes a domain event. Returned errors are classified with IsRetryable.
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes returns the event types this handler is interested in.
	// An empty slice means the handler receives all events.
	EventTypes() []string
}

// NamedHandler lets a handler pick a stable consumer name on durable buses
type NamedHandler interface {
	HandlerName() string
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber subscribes to domain events
type EventSubscriber interface {
	// Subscribe registers a handler for specific event types.
	// If no event types are provided, the handler's own EventTypes are used.
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus combines publisher and subscriber capabilities
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxEventSaver saves domain events to the outbox within the caller's transaction.
// txProvider is the transaction handle of the persistence layer (a *gorm.DB).
type OutboxEventSaver interface {
	SaveEvents(ctx context.Context, txProvider any, events ...DomainEvent) error
}

type deliveryAttemptKey struct{}

// WithDeliveryAttempt records the 1-based delivery attempt of the event being handled
func WithDeliveryAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, deliveryAttemptKey{}, attempt)
}

// DeliveryAttempt returns the delivery attempt stored in ctx, 1 when unknown
func DeliveryAttempt(ctx context.Context) int {
	if n, ok := ctx.Value(deliveryAttemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}
