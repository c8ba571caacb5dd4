package transport

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

type mockConfig struct {
	transport      string
	maxMessageSize int64
}

func (m *mockConfig) GetTransport() string                  { return m.transport }
func (m *mockConfig) GetMaxMessageSize() int64              { return m.maxMessageSize }
func (m *mockConfig) GetServiceBusConnectionString() string { return "" }
func (m *mockConfig) GetServiceBusTransportMode() string    { return "" }
func (m *mockConfig) GetChannelName() string                { return "" }
func (m *mockConfig) GetKafkaBrokers() []string             { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string         { return "" }
func (m *mockConfig) GetRabbitMQURL() string                { return "" }
func (m *mockConfig) GetNATSURL() string                    { return "" }
func (m *mockConfig) GetNATSQueueGroup() string             { return "" }
func (m *mockConfig) GetHTTPServerAddress() string          { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string           { return "" }
func (m *mockConfig) GetSQLiteFile() string                 { return "" }
func (m *mockConfig) GetAWSRegion() string                  { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string             { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string         { return "" }
func (m *mockConfig) GetAWSEndpoint() string                { return "" }

type mockPublisher struct {
	mu        sync.Mutex
	published map[string][]*message.Message
	err       error
	closed    int
	closeErr  error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.published == nil {
		m.published = make(map[string][]*message.Message)
	}
	m.published[topic] = append(m.published[topic], messages...)
	return nil
}

func (m *mockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

type mockSubscriber struct {
	closed   int
	closeErr error
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return m.closeErr
}

type mockConnector struct{}

func (mockConnector) Open(context.Context) (Connection, error) { return nil, nil }
