package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Message headers set on every published event
const (
	HeaderEventType   = "Billflow-Event-Type"
	HeaderFailure     = "Billflow-Failure"
	HeaderOrigSubject = "Billflow-Original-Subject"

	DeadLetterPrefix = "deadletter."
)

// NATSBusConfig configures the JetStream adapter
type NATSBusConfig struct {
	URL             string
	Token           string
	Stream          string
	Subjects        []string
	DuplicateWindow time.Duration
	ConsumerPrefix  string
	MaxDeliver      int
	AckWait         time.Duration
	MaxReconnects   int
	ReconnectWait   time.Duration
}

// DefaultNATSBusConfig returns the stream layout used by the pipeline
func DefaultNATSBusConfig() NATSBusConfig {
	return NATSBusConfig{
		URL:    nats.DefaultURL,
		Stream: "BILLFLOW",
		Subjects: []string{
			"usage.recorded.>",
			"billing.>",
			"wallet.>",
			DeadLetterPrefix + ">",
		},
		DuplicateWindow: 2 * time.Minute,
		ConsumerPrefix:  "billflow",
		MaxDeliver:      shared.DefaultMaxRetries,
		AckWait:         30 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
	}
}

// NATSEventBus publishes events to a JetStream stream and runs one durable consumer
// per subscribed handler. The event id doubles as the JetStream message id, so the
// stream deduplicates republished events within the duplicate window.
//
// Ack policy: nil or permanent results are acked, retryable results are nak'ed with
// exponential backoff, and once MaxDeliver is reached the message is copied to
// deadletter.<subject> and terminated.
type NATSEventBus struct {
	cfg        NATSBusConfig
	serializer *EventSerializer
	logger     *zap.Logger

	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream

	mu       sync.Mutex
	registry *HandlerRegistry
	running  []jetstream.ConsumeContext
}

// NewNATSEventBus connects to NATS and ensures the stream exists
func NewNATSEventBus(ctx context.Context, cfg NATSBusConfig, serializer *EventSerializer, logger *zap.Logger) (*NATSEventBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConsumerPrefix),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   cfg.Subjects,
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	return &NATSEventBus{
		cfg:        cfg,
		serializer: serializer,
		logger:     logger,
		nc:         nc,
		js:         js,
		stream:     stream,
		registry:   NewHandlerRegistry(),
	}, nil
}

// Publish sends each event to its subject. A broker failure is transient.
func (b *NATSEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, event := range events {
		data, err := b.serializer.Serialize(event)
		if err != nil {
			return err
		}
		msg := &nats.Msg{
			Subject: shared.SubjectOf(event),
			Data:    data,
			Header:  nats.Header{},
		}
		msg.Header.Set(HeaderEventType, event.EventType())

		if _, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.EventID().String())); err != nil {
			return shared.NewTransientIOError("publish "+msg.Subject, err)
		}
	}
	return nil
}

// Subscribe records the handler; consumers are created on Start
func (b *NATSEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
}

// Unsubscribe removes the handler from future Start calls
func (b *NATSEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start creates a durable consumer per handler and begins consuming
func (b *NATSEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for handler, types := range b.registry.Subscriptions() {
		cfg := jetstream.ConsumerConfig{
			Durable:        consumerName(b.cfg.ConsumerPrefix, handlerName(handler)),
			FilterSubjects: filterSubjects(types),
			AckPolicy:      jetstream.AckExplicitPolicy,
			DeliverPolicy:  jetstream.DeliverAllPolicy,
			MaxDeliver:     b.cfg.MaxDeliver,
			AckWait:        b.cfg.AckWait,
		}
		cons, err := b.stream.CreateOrUpdateConsumer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create consumer %s: %w", cfg.Durable, err)
		}

		h := handler
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			b.handleMessage(h, msg)
		})
		if err != nil {
			return fmt.Errorf("failed to start consumer %s: %w", cfg.Durable, err)
		}
		b.running = append(b.running, cc)

		b.logger.Info("jetstream consumer started",
			zap.String("consumer", cfg.Durable),
			zap.Strings("subjects", cfg.FilterSubjects),
		)
	}
	return nil
}

// Stop drains consumers and closes the connection
func (b *NATSEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	for _, cc := range b.running {
		cc.Stop()
	}
	b.running = nil
	b.mu.Unlock()

	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	b.logger.Info("event bus stopped", zap.String("driver", "nats"))
	return nil
}

// Ping reports whether the connection is usable
func (b *NATSEventBus) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	_, err := b.js.AccountInfo(ctx)
	return err
}

func (b *NATSEventBus) handleMessage(handler shared.EventHandler, msg jetstream.Msg) {
	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}

	eventType := msg.Headers().Get(HeaderEventType)
	event, err := b.serializer.Deserialize(eventType, msg.Data())
	if err != nil {
		b.deadLetter(msg, err)
		return
	}

	ctx := shared.WithDeliveryAttempt(context.Background(), attempt)
	if b.cfg.AckWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.AckWait)
		defer cancel()
	}

	err = b.dispatch(ctx, handler, event)
	switch {
	case err == nil:
		b.ack(msg)
	case !shared.IsRetryable(err):
		b.logger.Warn("handler rejected event permanently",
			zap.String("handler", handlerName(handler)),
			zap.String("event_id", event.EventID().String()),
			zap.Error(err),
		)
		b.ack(msg)
	case attempt >= b.cfg.MaxDeliver:
		b.deadLetter(msg, err)
	default:
		delay := shared.Backoff(attempt)
		b.logger.Info("handler asked for redelivery",
			zap.String("handler", handlerName(handler)),
			zap.String("event_id", event.EventID().String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			b.logger.Error("failed to nak message", zap.Error(nakErr))
		}
	}
}

func (b *NATSEventBus) dispatch(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = shared.Retryable("HANDLER_PANIC", fmt.Errorf("panic: %v", r))
		}
	}()
	return handler.Handle(ctx, event)
}

func (b *NATSEventBus) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		b.logger.Error("failed to ack message", zap.String("subject", msg.Subject()), zap.Error(err))
	}
}

// deadLetter copies the message to deadletter.<subject> and stops redelivery
func (b *NATSEventBus) deadLetter(msg jetstream.Msg, cause error) {
	dl := &nats.Msg{
		Subject: DeadLetterPrefix + msg.Subject(),
		Data:    msg.Data(),
		Header:  nats.Header{},
	}
	for k, v := range msg.Headers() {
		dl.Header[k] = v
	}
	dl.Header.Set(HeaderOrigSubject, msg.Subject())
	dl.Header.Set(HeaderFailure, cause.Error())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.js.PublishMsg(ctx, dl); err != nil {
		// leave the message unacked so it is redelivered after AckWait
		b.logger.Error("failed to publish dead letter", zap.String("subject", dl.Subject), zap.Error(err))
		return
	}

	b.logger.Warn("message moved to dead letter",
		zap.String("subject", msg.Subject()),
		zap.Error(cause),
	)
	if err := msg.Term(); err != nil {
		b.logger.Error("failed to terminate message", zap.Error(err))
	}
}

func filterSubjects(eventTypes []string) []string {
	if len(eventTypes) == 0 {
		return []string{">"}
	}
	out := make([]string, 0, len(eventTypes)*2)
	for _, t := range eventTypes {
		out = append(out, t, t+".>")
	}
	return out
}

func consumerName(prefix, handler string) string {
	r := strings.NewReplacer(".", "-", " ", "-", "*", "-", ">", "-", "/", "-")
	return r.Replace(prefix + "-" + handler)
}

var _ shared.EventBus = (*NATSEventBus)(nil)
