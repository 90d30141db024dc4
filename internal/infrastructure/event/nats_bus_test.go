package event

import (
	"context"
	"errors"
	"testing"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// publishingJetStream records published messages and optionally fails them
type publishingJetStream struct {
	jetstream.JetStream
	published []*nats.Msg
	err       error
}

func (j *publishingJetStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if j.err != nil {
		return nil, j.err
	}
	j.published = append(j.published, msg)
	return &jetstream.PubAck{Stream: "BILLFLOW", Sequence: uint64(len(j.published))}, nil
}

func newNATSTestBus(js jetstream.JetStream) *NATSEventBus {
	serializer := NewEventSerializer()
	serializer.Register("test.event", &testEvent{})
	return &NATSEventBus{
		cfg:        DefaultNATSBusConfig(),
		serializer: serializer,
		logger:     zap.NewNop(),
		js:         js,
		registry:   NewHandlerRegistry(),
	}
}

func TestNATSEventBus_Publish(t *testing.T) {
	js := &publishingJetStream{}
	bus := newNATSTestBus(js)

	ev := newTestEvent("test.event")
	require.NoError(t, bus.Publish(context.Background(), ev))

	require.Len(t, js.published, 1)
	assert.Equal(t, "test.event", js.published[0].Subject)
	assert.Equal(t, "test.event", js.published[0].Header.Get(HeaderEventType))
}

func TestNATSEventBus_PublishFailureIsTransient(t *testing.T) {
	bus := newNATSTestBus(&publishingJetStream{err: errors.New("no responders")})

	err := bus.Publish(context.Background(), newTestEvent("test.event"))
	require.Error(t, err)
	assert.True(t, shared.IsTransient(err))
	assert.True(t, shared.IsRetryable(err))
	assert.ErrorContains(t, err, "publish test.event")
	assert.ErrorContains(t, err, "no responders")
}
