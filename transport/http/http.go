// Package http provides an HTTP push transport for tracedqueue. Publishers
// POST each message to HTTPPublisherURL+queue; subscribers serve one route per
// queue on HTTPServerAddress.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tracedqueue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterPubSub(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates an HTTP publisher and a subscriber whose server starts with
// the first subscription, so connections used only for sending never bind
// the server address.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.PubSub{}, fmt.Errorf("http: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.PubSub{}, fmt.Errorf("http: create subscriber: %w", err)
	}

	return transport.PubSub{
		Publisher:  publisher,
		Subscriber: &lazyServerSubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

// httpServer is implemented by the Watermill HTTP subscriber.
type httpServer interface {
	StartHTTPServer() error
}

type lazyServerSubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *lazyServerSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		server, ok := s.Subscriber.(httpServer)
		if !ok {
			return
		}
		go func() {
			if err := server.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				s.logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}()
	})
	return msgs, nil
}
