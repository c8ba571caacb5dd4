package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
)

func mockPubSubConnector(pub *mockPublisher, sub *mockSubscriber, caps Capabilities, cfg *mockConfig) Connector {
	return NewPubSubConnector(func(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
		return PubSub{Publisher: pub, Subscriber: sub}, nil
	}, cfg, nil, caps)
}

func TestBudgetBatchRejectsOversizedMessage(t *testing.T) {
	batch := NewBudgetBatch(16)

	err := batch.Add(Message{ID: "1", Body: make([]byte, 17)})
	assert.ErrorIs(t, err, errspkg.ErrMessageTooLarge)
	assert.Equal(t, 0, batch.Len())

	require.NoError(t, batch.Add(Message{ID: "2", Body: make([]byte, 10)}))
	assert.ErrorIs(t, batch.Add(Message{ID: "3", Body: make([]byte, 7)}), errspkg.ErrMessageTooLarge)
	assert.Equal(t, 1, batch.Len())
}

func TestBudgetBatchCountsHeadersAgainstBudget(t *testing.T) {
	batch := NewBudgetBatch(16)
	msg := Message{ID: "1", Body: make([]byte, 10), Properties: StringProperties{"traceparent": "00"}}
	assert.ErrorIs(t, batch.Add(msg), errspkg.ErrMessageTooLarge)
}

func TestBudgetBatchUnlimited(t *testing.T) {
	batch := NewBudgetBatch(0)
	require.NoError(t, batch.Add(Message{ID: "1", Body: make([]byte, 1<<20)}))
	assert.Equal(t, 1, batch.Len())
}

func TestPubSubSenderPublishesBatch(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	connector := mockPubSubConnector(pub, sub, Capabilities{Name: "mock"}, &mockConfig{})
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	sender, err := conn.NewSender(ctx, "orders")
	require.NoError(t, err)
	batch, err := sender.NewBatch(ctx)
	require.NoError(t, err)

	props := StringProperties{"traceparent": "00-x"}
	require.NoError(t, batch.Add(Message{ID: "id-1", Body: []byte(`{"a":1}`), Properties: props}))
	props["traceparent"] = "mutated"

	require.NoError(t, sender.SendBatch(ctx, batch))
	require.NoError(t, sender.Close(ctx))
	require.NoError(t, conn.Close(ctx))

	require.Len(t, pub.published["orders"], 1)
	got := pub.published["orders"][0]
	assert.Equal(t, "id-1", got.UUID)
	assert.Equal(t, `{"a":1}`, string(got.Payload))
	assert.Equal(t, "00-x", got.Metadata.Get("traceparent"))
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestPubSubConfigOverridesBudget(t *testing.T) {
	connector := mockPubSubConnector(&mockPublisher{}, &mockSubscriber{}, Capabilities{Name: "mock", MaxMessageSize: 1024}, &mockConfig{maxMessageSize: 4})
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	sender, err := conn.NewSender(ctx, "orders")
	require.NoError(t, err)
	batch, err := sender.NewBatch(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, batch.Add(Message{Body: []byte("12345")}), errspkg.ErrMessageTooLarge)
}

func TestPubSubConnectionCloseJoinsErrors(t *testing.T) {
	pubErr := errors.New("publisher close")
	subErr := errors.New("subscriber close")
	connector := mockPubSubConnector(&mockPublisher{closeErr: pubErr}, &mockSubscriber{closeErr: subErr}, Capabilities{}, &mockConfig{})
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)

	err = conn.Close(ctx)
	assert.ErrorIs(t, err, pubErr)
	assert.ErrorIs(t, err, subErr)

	assert.NoError(t, conn.Close(ctx), "second close is a no-op")

	_, err = conn.NewSender(ctx, "orders")
	assert.ErrorIs(t, err, errspkg.ErrTransportClosed)
}

func TestPubSubSenderRequiresQueue(t *testing.T) {
	connector := mockPubSubConnector(&mockPublisher{}, &mockSubscriber{}, Capabilities{}, &mockConfig{})
	conn, err := connector.Open(context.Background())
	require.NoError(t, err)

	_, err = conn.NewSender(context.Background(), "")
	assert.ErrorIs(t, err, errspkg.ErrQueueNameRequired)
	_, err = conn.NewProcessor(context.Background(), "", ProcessorOptions{})
	assert.ErrorIs(t, err, errspkg.ErrQueueNameRequired)
}

func TestPubSubPublishErrorIsReturned(t *testing.T) {
	boom := errors.New("broker down")
	connector := mockPubSubConnector(&mockPublisher{err: boom}, &mockSubscriber{}, Capabilities{}, &mockConfig{})
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	sender, err := conn.NewSender(ctx, "orders")
	require.NoError(t, err)
	batch, err := sender.NewBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Add(Message{ID: "1", Body: []byte("x")}))

	assert.ErrorIs(t, sender.SendBatch(ctx, batch), boom)
}

func TestRouterProcessorDeliversAndAcks(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	connector := NewPubSubConnector(func(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
		return PubSub{Publisher: bus, Subscriber: bus}, nil
	}, &mockConfig{}, nil, ChannelCapabilities)
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	processor, err := conn.NewProcessor(ctx, "orders", ProcessorOptions{
		CloseTimeout: time.Second,
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []string
	)
	delivered := make(chan struct{}, 2)
	require.NoError(t, processor.Start(ctx, func(ctx context.Context, d Delivery) {
		v, _ := d.Properties().Get("traceparent")
		mu.Lock()
		received = append(received, string(d.Body())+"|"+v.(string))
		mu.Unlock()
		assert.NoError(t, d.Complete(ctx))
		delivered <- struct{}{}
	}, nil))

	sender, err := conn.NewSender(ctx, "orders")
	require.NoError(t, err)
	for _, body := range []string{"one", "two"} {
		batch, err := sender.NewBatch(ctx)
		require.NoError(t, err)
		require.NoError(t, batch.Add(Message{ID: body, Body: []byte(body), Properties: StringProperties{"traceparent": "tp-" + body}}))
		require.NoError(t, sender.SendBatch(ctx, batch))
	}

	for range 2 {
		select {
		case <-delivered:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	require.NoError(t, processor.Close(ctx))
	require.NoError(t, conn.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"one|tp-one", "two|tp-two"}, received)
}

func TestRouterProcessorStartTwice(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	connector := NewPubSubConnector(func(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
		return PubSub{Publisher: bus, Subscriber: bus}, nil
	}, &mockConfig{}, nil, ChannelCapabilities)
	ctx := context.Background()

	conn, err := connector.Open(ctx)
	require.NoError(t, err)
	defer conn.Close(ctx)

	processor, err := conn.NewProcessor(ctx, "orders", ProcessorOptions{CloseTimeout: time.Second})
	require.NoError(t, err)

	noop := func(context.Context, Delivery) {}
	require.NoError(t, processor.Start(ctx, noop, nil))
	assert.ErrorIs(t, processor.Start(ctx, noop, nil), errspkg.ErrWorkerRunning)
	assert.ErrorIs(t, mustProcessor(t, conn).Start(ctx, nil, nil), errspkg.ErrHandlerRequired)
	require.NoError(t, processor.Close(ctx))
}

// stallingSubscriber holds Subscribe until its context ends while stall is
// set, so the router never reports running.
type stallingSubscriber struct {
	*gochannel.GoChannel
	stall atomic.Bool
}

func (s *stallingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.GoChannel.Subscribe(ctx, topic)
}

func TestRouterProcessorStartCancelledCanStartAgain(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	sub := &stallingSubscriber{GoChannel: bus}
	sub.stall.Store(true)
	connector := NewPubSubConnector(func(context.Context, Config, watermill.LoggerAdapter) (PubSub, error) {
		return PubSub{Publisher: bus, Subscriber: sub}, nil
	}, &mockConfig{}, nil, ChannelCapabilities)

	conn, err := connector.Open(context.Background())
	require.NoError(t, err)
	defer conn.Close(context.Background())
	processor, err := conn.NewProcessor(context.Background(), "orders", ProcessorOptions{CloseTimeout: time.Second})
	require.NoError(t, err)

	noop := func(context.Context, Delivery) {}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, processor.Start(cancelled, noop, nil), context.Canceled)

	// Nothing is left running, so Close is a no-op.
	require.NoError(t, processor.Close(context.Background()))

	sub.stall.Store(false)
	require.NoError(t, processor.Start(context.Background(), noop, nil))
	require.NoError(t, processor.Close(context.Background()))
	require.NoError(t, processor.Close(context.Background()))
}

func mustProcessor(t *testing.T, conn Connection) Processor {
	t.Helper()
	p, err := conn.NewProcessor(context.Background(), "other", ProcessorOptions{})
	require.NoError(t, err)
	return p
}
