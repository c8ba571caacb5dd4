package http

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tracedqueue/internal/runtime/config"
	"github.com/drblury/tracedqueue/transport"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.HTTPCapabilities, transport.DefaultRegistry.GetCapabilities(TransportName))
}

func TestBuild(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	restore := func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	}
	cfg := &config.Config{HTTPServerAddress: ":8080", HTTPPublisherURL: "http://localhost:8080/"}

	t.Run("publisher targets url per queue", func(t *testing.T) {
		defer restore()

		var pubCfg watermillhttp.PublisherConfig
		PublisherFactory = func(c watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = c
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(addr string, c watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":8080", addr)
			return &mockSubscriber{}, nil
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		msg := message.NewMessage("m-1", []byte("payload"))
		req, err := pubCfg.MarshalMessageFunc("contagem", msg)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/contagem", req.URL.String())
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(body))
	})

	t.Run("subscriber server starts on first subscribe only", func(t *testing.T) {
		defer restore()

		mockSub := &mockServerSubscriber{started: make(chan struct{}, 2)}
		PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return mockSub, nil
		}

		ps, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		_, err = ps.Subscriber.Subscribe(context.Background(), "a")
		require.NoError(t, err)
		_, err = ps.Subscriber.Subscribe(context.Background(), "b")
		require.NoError(t, err)

		<-mockSub.started
		assert.Len(t, mockSub.started, 0)
		assert.Equal(t, []string{"a", "b"}, mockSub.topics)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		defer restore()

		PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		defer restore()

		mockPub := &mockPublisher{}
		PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, mockPub.closed)
	})
}

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { m.closed = true; return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }

type mockServerSubscriber struct {
	mockSubscriber
	topics  []string
	started chan struct{}
}

func (m *mockServerSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.topics = append(m.topics, topic)
	return make(chan *message.Message), nil
}

func (m *mockServerSubscriber) StartHTTPServer() error {
	m.started <- struct{}{}
	return nil
}
