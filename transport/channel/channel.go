// Package channel provides an in-process queue transport for tracedqueue built
// on Watermill's gochannel. Senders and workers in one process that use the
// same channel name share a bus, which makes it useful for tests and local
// development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/tracedqueue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultName is the bus used when the config names none.
const DefaultName = "default"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

type bus struct {
	pub message.Publisher
	sub message.Subscriber
}

var (
	busesMu sync.Mutex
	buses   = map[string]*bus{}
)

func init() {
	transport.RegisterPubSub(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns handles on the named in-process bus, creating it on first use.
// Closing the handles leaves the bus running; use Reset to discard it.
//
// Messages are not kept: a message published while the queue has no
// subscriber is dropped, and an acknowledged message is never replayed.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	name := DefaultName
	if cfg != nil && cfg.GetChannelName() != "" {
		name = cfg.GetChannelName()
	}

	busesMu.Lock()
	defer busesMu.Unlock()

	b, ok := buses[name]
	if !ok {
		pub, sub := Factory(gochannel.Config{}, logger)
		b = &bus{pub: pub, sub: sub}
		buses[name] = b
	}
	return transport.PubSub{
		Publisher:  sharedPublisher{b.pub},
		Subscriber: sharedSubscriber{b.sub},
	}, nil
}

// Reset closes and forgets the named bus.
func Reset(name string) error {
	busesMu.Lock()
	b, ok := buses[name]
	delete(buses, name)
	busesMu.Unlock()
	if !ok {
		return nil
	}
	err := b.pub.Close()
	if any(b.sub) != any(b.pub) {
		if subErr := b.sub.Close(); err == nil {
			err = subErr
		}
	}
	return err
}

type sharedPublisher struct{ message.Publisher }

func (sharedPublisher) Close() error { return nil }

type sharedSubscriber struct{ message.Subscriber }

func (sharedSubscriber) Close() error { return nil }
