// Package servicebus provides the Azure Service Bus queue transport for
// tracedqueue. Connections use AMQP over WebSockets unless the config selects
// plain AMQP.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/coder/websocket"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	"github.com/drblury/tracedqueue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "servicebus"

// Transport modes accepted in the config.
const (
	ModeAMQP           = "amqp"
	ModeAMQPWebSockets = "amqp-websockets"
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ServiceBusCapabilities)
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(cfg transport.Config) (Client, error) {
	return dial(cfg)
}

// Client is the subset of the Service Bus client a connection uses.
type Client interface {
	NewSender(queue string) (MessageSender, error)
	NewReceiver(queue string) (MessageReceiver, error)
	Close(ctx context.Context) error
}

// MessageBatch is implemented by *azservicebus.MessageBatch.
type MessageBatch interface {
	AddMessage(msg *azservicebus.Message, options *azservicebus.AddMessageOptions) error
	NumMessages() int32
}

// MessageSender creates and sends broker-sized batches.
type MessageSender interface {
	NewMessageBatch(ctx context.Context, options *azservicebus.MessageBatchOptions) (MessageBatch, error)
	SendMessageBatch(ctx context.Context, batch MessageBatch) error
	Close(ctx context.Context) error
}

// MessageReceiver is implemented by *azservicebus.Receiver.
type MessageReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, msg *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	Close(ctx context.Context) error
}

// Build validates cfg and returns a Connector that dials a new client for
// every Open.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connector, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if cfg.GetServiceBusConnectionString() == "" {
		return nil, errors.New("servicebus: connection string is required")
	}
	switch cfg.GetServiceBusTransportMode() {
	case "", ModeAMQP, ModeAMQPWebSockets:
	default:
		return nil, fmt.Errorf("servicebus: unknown transport mode %q", cfg.GetServiceBusTransportMode())
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Connector{cfg: cfg, logger: logger}, nil
}

// Connector opens Service Bus connections.
type Connector struct {
	cfg    transport.Config
	logger watermill.LoggerAdapter
}

// Capabilities reports the Service Bus capability set.
func (c *Connector) Capabilities() transport.Capabilities {
	return transport.ServiceBusCapabilities
}

// Open dials a client owned exclusively by the returned connection.
func (c *Connector) Open(context.Context) (transport.Connection, error) {
	client, err := ClientFactory(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("servicebus: open client: %w", err)
	}
	return &connection{
		client:   client,
		logger:   c.logger,
		maxBytes: c.cfg.GetMaxMessageSize(),
	}, nil
}

type connection struct {
	client   Client
	logger   watermill.LoggerAdapter
	maxBytes int64

	mu     sync.Mutex
	closed bool
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *connection) NewSender(_ context.Context, queue string) (transport.Sender, error) {
	if c.isClosed() {
		return nil, errspkg.ErrTransportClosed
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	s, err := c.client.NewSender(queue)
	if err != nil {
		return nil, fmt.Errorf("servicebus: create sender for %q: %w", queue, err)
	}
	return &sender{sender: s, maxBytes: c.maxBytes}, nil
}

func (c *connection) NewProcessor(_ context.Context, queue string, opts transport.ProcessorOptions) (transport.Processor, error) {
	if c.isClosed() {
		return nil, errspkg.ErrTransportClosed
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	r, err := c.client.NewReceiver(queue)
	if err != nil {
		return nil, fmt.Errorf("servicebus: create receiver for %q: %w", queue, err)
	}
	return newProcessor(r, queue, opts, c.logger), nil
}

func (c *connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.client.Close(ctx)
}

type sender struct {
	sender   MessageSender
	maxBytes int64
}

// NewBatch returns a batch sized by the broker link unless MaxMessageSize
// overrides it.
func (s *sender) NewBatch(ctx context.Context) (transport.Batch, error) {
	var opts *azservicebus.MessageBatchOptions
	if s.maxBytes > 0 {
		opts = &azservicebus.MessageBatchOptions{MaxBytes: uint64(s.maxBytes)}
	}
	b, err := s.sender.NewMessageBatch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("servicebus: create batch: %w", err)
	}
	return &batch{inner: b}, nil
}

func (s *sender) SendBatch(ctx context.Context, b transport.Batch) error {
	sb, ok := b.(*batch)
	if !ok {
		return fmt.Errorf("batch %T was not created by this sender", b)
	}
	if sb.Len() == 0 {
		return nil
	}
	return s.sender.SendMessageBatch(ctx, sb.inner)
}

func (s *sender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}

type batch struct {
	inner MessageBatch
}

func (b *batch) Add(msg transport.Message) error {
	err := b.inner.AddMessage(toServiceBusMessage(msg), nil)
	if errors.Is(err, azservicebus.ErrMessageTooLarge) {
		return errspkg.ErrMessageTooLarge
	}
	return err
}

func (b *batch) Len() int { return int(b.inner.NumMessages()) }

func toServiceBusMessage(msg transport.Message) *azservicebus.Message {
	props := make(map[string]any, len(msg.Properties))
	for k, v := range msg.Properties {
		props[k] = v
	}
	out := &azservicebus.Message{
		Body:                  msg.Body,
		ApplicationProperties: props,
	}
	if msg.ID != "" {
		id := msg.ID
		out.MessageID = &id
	}
	return out
}

type delivery struct {
	msg      *azservicebus.ReceivedMessage
	receiver MessageReceiver
}

func (d *delivery) ID() string   { return d.msg.MessageID }
func (d *delivery) Body() []byte { return d.msg.Body }

// Properties exposes the loosely typed application properties. Values set by
// other producers may be any AMQP type.
func (d *delivery) Properties() transport.Carrier {
	if d.msg.ApplicationProperties == nil {
		d.msg.ApplicationProperties = make(map[string]any)
	}
	return transport.AnyProperties(d.msg.ApplicationProperties)
}

func (d *delivery) Complete(ctx context.Context) error {
	return d.receiver.CompleteMessage(ctx, d.msg, nil)
}

func dial(cfg transport.Config) (Client, error) {
	opts := &azservicebus.ClientOptions{ApplicationID: "tracedqueue"}
	if mode := cfg.GetServiceBusTransportMode(); mode == "" || mode == ModeAMQPWebSockets {
		opts.NewWebSocketConn = newWebSocketConn
	}
	c, err := azservicebus.NewClientFromConnectionString(cfg.GetServiceBusConnectionString(), opts)
	if err != nil {
		return nil, err
	}
	return &azClient{client: c}, nil
}

// newWebSocketConn tunnels AMQP through a WebSocket on port 443.
func newWebSocketConn(ctx context.Context, args azservicebus.NewWebSocketConnArgs) (net.Conn, error) {
	conn, _, err := websocket.Dial(ctx, args.Host, &websocket.DialOptions{
		Subprotocols: []string{"amqp"},
	})
	if err != nil {
		return nil, fmt.Errorf("servicebus: websocket dial: %w", err)
	}
	return websocket.NetConn(context.WithoutCancel(ctx), conn, websocket.MessageBinary), nil
}

type azClient struct {
	client *azservicebus.Client
}

func (c *azClient) NewSender(queue string) (MessageSender, error) {
	s, err := c.client.NewSender(queue, nil)
	if err != nil {
		return nil, err
	}
	return &azSender{sender: s}, nil
}

func (c *azClient) NewReceiver(queue string) (MessageReceiver, error) {
	return c.client.NewReceiverForQueue(queue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
}

func (c *azClient) Close(ctx context.Context) error { return c.client.Close(ctx) }

type azSender struct {
	sender *azservicebus.Sender
}

func (s *azSender) NewMessageBatch(ctx context.Context, options *azservicebus.MessageBatchOptions) (MessageBatch, error) {
	return s.sender.NewMessageBatch(ctx, options)
}

func (s *azSender) SendMessageBatch(ctx context.Context, b MessageBatch) error {
	mb, ok := b.(*azservicebus.MessageBatch)
	if !ok {
		return fmt.Errorf("batch %T was not created by this sender", b)
	}
	return s.sender.SendMessageBatch(ctx, mb, nil)
}

func (s *azSender) Close(ctx context.Context) error { return s.sender.Close(ctx) }
