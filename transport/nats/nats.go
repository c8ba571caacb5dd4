// Package nats provides a NATS Core queue-group transport for tracedqueue.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/tracedqueue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// DefaultQueueGroup load-balances workers that subscribe to the same subject.
const DefaultQueueGroup = "tracedqueue"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterPubSub(TransportName, Build, transport.NATSCapabilities)
}

func connectionOptions() []nc.Option {
	return []nc.Option{
		nc.Name("tracedqueue"),
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(time.Second),
	}
}

// Build creates a NATS Core publisher and a queue-group subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	url := cfg.GetNATSURL()
	queueGroup := cfg.GetNATSQueueGroup()
	if queueGroup == "" {
		queueGroup = DefaultQueueGroup
	}
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectionOptions(),
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("nats: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: queueGroup,
			NatsOptions:      connectionOptions(),
			Unmarshaler:      marshaler,
			JetStream:        nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("nats: create subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
