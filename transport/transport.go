// Package transport defines the queue boundary used by tracedqueue senders and
// workers. Each broker adapter (servicebus, rabbitmq, sqlite, ...) lives in its
// own sub-package and registers a ConnectorBuilder with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
)

// Message is the envelope handed to a batch. Properties carry the causal
// context headers; every value is a string.
type Message struct {
	ID         string
	Body       []byte
	Properties StringProperties
}

// Size is the number of bytes counted against a batch budget: the body plus
// every property key and value.
func (m Message) Size() int64 {
	size := int64(len(m.Body))
	for k, v := range m.Properties {
		size += int64(len(k) + len(v))
	}
	return size
}

// Connector opens connections to a broker. Senders open one connection per
// publish call; workers hold a single connection for their whole lifetime.
type Connector interface {
	Open(ctx context.Context) (Connection, error)
}

// Connection is a live, exclusively owned link to a broker.
type Connection interface {
	NewSender(ctx context.Context, queue string) (Sender, error)
	NewProcessor(ctx context.Context, queue string, opts ProcessorOptions) (Processor, error)
	Close(ctx context.Context) error
}

// Sender publishes batches to a single queue.
type Sender interface {
	NewBatch(ctx context.Context) (Batch, error)
	SendBatch(ctx context.Context, batch Batch) error
	Close(ctx context.Context) error
}

// Batch is a size-bounded group of messages published in one call. Add returns
// errors.ErrMessageTooLarge when msg does not fit; the batch is left unchanged.
type Batch interface {
	Add(msg Message) error
	Len() int
}

// Delivery is a received message awaiting settlement.
type Delivery interface {
	ID() string
	Body() []byte
	Properties() Carrier
	// Complete removes the message from the queue.
	Complete(ctx context.Context) error
}

// DeliveryHandler is invoked for each received message. It owns settlement.
type DeliveryHandler func(ctx context.Context, delivery Delivery)

// ErrorHandler receives out-of-band transport errors. The pump keeps running.
type ErrorHandler func(ctx context.Context, err error)

// Processor pumps deliveries from a queue into a DeliveryHandler.
type Processor interface {
	// Start begins pumping in the background and returns once the processor
	// is receiving.
	Start(ctx context.Context, onDelivery DeliveryHandler, onError ErrorHandler) error
	// Close stops receiving and waits for in-flight handlers, bounded by ctx.
	Close(ctx context.Context) error
}

// ProcessorOptions tune a processor. Zero values fall back to transport
// defaults.
type ProcessorOptions struct {
	MaxConcurrentCalls int
	CloseTimeout       time.Duration
	// Registerer receives transport-level metrics when set.
	Registerer prometheus.Registerer
}

// ConnectorBuilder creates a Connector from config. Each transport package
// provides one and registers it by name.
type ConnectorBuilder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connector, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetTransport returns the registered transport name.
	GetTransport() string
	// GetMaxMessageSize overrides the transport's batch budget when positive.
	GetMaxMessageSize() int64

	// Azure Service Bus
	GetServiceBusConnectionString() string
	GetServiceBusTransportMode() string

	// In-process channel
	GetChannelName() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSQueueGroup() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// SQLite
	GetSQLiteFile() string

	// AWS SQS
	GetAWSRegion() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by connectors that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// QueueIntrospector is implemented by connections that can report how many
// messages are waiting in a queue.
type QueueIntrospector interface {
	PendingCount(ctx context.Context, queue string) (int64, error)
}
