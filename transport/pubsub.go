package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
)

// PubSub pairs a Watermill publisher and subscriber produced by a builder.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// PubSubBuilder creates a Watermill publisher/subscriber pair from config.
type PubSubBuilder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (PubSub, error)

const defaultRouterCloseTimeout = 30 * time.Second

type pubSubConnector struct {
	build  PubSubBuilder
	cfg    Config
	logger watermill.LoggerAdapter
	caps   Capabilities
}

// NewPubSubConnector adapts a Watermill transport to the Connector boundary.
// Batches are budgeted by caps.MaxMessageSize unless cfg overrides it, and
// processors are backed by a message.Router.
func NewPubSubConnector(build PubSubBuilder, cfg Config, logger watermill.LoggerAdapter, caps Capabilities) Connector {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &pubSubConnector{build: build, cfg: cfg, logger: logger, caps: caps}
}

func (c *pubSubConnector) Capabilities() Capabilities { return c.caps }

func (c *pubSubConnector) Open(ctx context.Context) (Connection, error) {
	ps, err := c.build(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", c.caps.Name, err)
	}
	var override int64
	if c.cfg != nil {
		override = c.cfg.GetMaxMessageSize()
	}
	return &pubSubConnection{
		ps:     ps,
		logger: c.logger,
		budget: c.caps.BatchBudget(override),
	}, nil
}

type pubSubConnection struct {
	ps     PubSub
	logger watermill.LoggerAdapter
	budget int64

	mu     sync.Mutex
	closed bool
}

func (c *pubSubConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *pubSubConnection) NewSender(_ context.Context, queue string) (Sender, error) {
	if c.isClosed() {
		return nil, errspkg.ErrTransportClosed
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	return &pubSubSender{conn: c, queue: queue}, nil
}

func (c *pubSubConnection) NewProcessor(_ context.Context, queue string, opts ProcessorOptions) (Processor, error) {
	if c.isClosed() {
		return nil, errspkg.ErrTransportClosed
	}
	if queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	return &routerProcessor{conn: c, queue: queue, opts: opts}, nil
}

// PendingCount delegates to the publisher or subscriber when either can
// introspect its queue.
func (c *pubSubConnection) PendingCount(ctx context.Context, queue string) (int64, error) {
	for _, candidate := range []any{c.ps.Subscriber, c.ps.Publisher} {
		if qi, ok := candidate.(QueueIntrospector); ok {
			return qi.PendingCount(ctx, queue)
		}
	}
	return 0, fmt.Errorf("pending count is not supported by this transport")
}

func (c *pubSubConnection) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if c.ps.Publisher != nil {
		if err := c.ps.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if c.ps.Subscriber != nil {
		if err := c.ps.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}

type pubSubSender struct {
	conn  *pubSubConnection
	queue string

	mu     sync.Mutex
	closed bool
}

func (s *pubSubSender) NewBatch(context.Context) (Batch, error) {
	if s.isClosed() {
		return nil, errspkg.ErrTransportClosed
	}
	return &budgetBatch{budget: s.conn.budget}, nil
}

func (s *pubSubSender) SendBatch(_ context.Context, batch Batch) error {
	if s.isClosed() || s.conn.isClosed() {
		return errspkg.ErrTransportClosed
	}
	b, ok := batch.(*budgetBatch)
	if !ok {
		return fmt.Errorf("batch %T was not created by this sender", batch)
	}
	if len(b.messages) == 0 {
		return nil
	}

	out := make([]*message.Message, 0, len(b.messages))
	for _, m := range b.messages {
		wm := message.NewMessage(m.ID, m.Body)
		for k, v := range m.Properties {
			wm.Metadata.Set(k, v)
		}
		out = append(out, wm)
	}
	return s.conn.ps.Publisher.Publish(s.queue, out...)
}

func (s *pubSubSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close detaches the sender. The publisher belongs to the connection.
func (s *pubSubSender) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type budgetBatch struct {
	budget   int64
	used     int64
	messages []Message
}

// NewBudgetBatch returns a batch that rejects messages once their combined
// Size would exceed budget. A budget of zero or less is unlimited.
func NewBudgetBatch(budget int64) Batch {
	return &budgetBatch{budget: budget}
}

func (b *budgetBatch) Add(msg Message) error {
	size := msg.Size()
	if b.budget > 0 && b.used+size > b.budget {
		return errspkg.ErrMessageTooLarge
	}
	msg.Properties = msg.Properties.Clone()
	b.messages = append(b.messages, msg)
	b.used += size
	return nil
}

func (b *budgetBatch) Len() int { return len(b.messages) }

// Messages returns the accepted messages in insertion order.
func (b *budgetBatch) Messages() []Message { return b.messages }

// routerProcessor drives a single subscription through a Watermill router.
// Deliveries on one subscription are handled one at a time.
type routerProcessor struct {
	conn  *pubSubConnection
	queue string
	opts  ProcessorOptions

	mu     sync.Mutex
	router *message.Router
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *routerProcessor) Start(ctx context.Context, onDelivery DeliveryHandler, onError ErrorHandler) error {
	if onDelivery == nil {
		return errspkg.ErrHandlerRequired
	}
	if onError == nil {
		onError = func(context.Context, error) {}
	}

	p.mu.Lock()
	if p.router != nil {
		p.mu.Unlock()
		return errspkg.ErrWorkerRunning
	}

	closeTimeout := p.opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultRouterCloseTimeout
	}
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, p.conn.logger)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	if p.opts.Registerer != nil {
		metrics.NewPrometheusMetricsBuilder(p.opts.Registerer, "tracedqueue", "router").
			AddPrometheusRouterMetrics(router)
	}

	router.AddNoPublisherHandler(
		p.queue+"_receive",
		p.queue,
		p.conn.ps.Subscriber,
		func(msg *message.Message) error {
			onDelivery(msg.Context(), &pubSubDelivery{msg: msg})
			return nil
		},
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	runErr := make(chan error, 1)
	p.router = router
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		runErr <- router.Run(runCtx)
	}()

	select {
	case <-router.Running():
		go func() {
			<-done
			if err := <-runErr; err != nil {
				onError(runCtx, fmt.Errorf("router for queue %q stopped: %w", p.queue, err))
			}
		}()
		return nil
	case <-done:
		err := <-runErr
		p.release(router)
		if err == nil {
			err = errspkg.ErrTransportClosed
		}
		return fmt.Errorf("start router for queue %q: %w", p.queue, err)
	case <-ctx.Done():
		cancel()
		_ = router.Close()
		p.release(router)
		return ctx.Err()
	}
}

// release forgets router if it is still the current one, so Start may run
// again.
func (p *routerProcessor) release(router *message.Router) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.router == router {
		p.router = nil
		p.cancel = nil
		p.done = nil
	}
}

func (p *routerProcessor) Close(ctx context.Context) error {
	p.mu.Lock()
	router, cancel, done := p.router, p.cancel, p.done
	p.mu.Unlock()
	if router == nil {
		return nil
	}

	err := router.Close()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	p.release(router)
	return err
}

type pubSubDelivery struct {
	msg *message.Message
}

func (d *pubSubDelivery) ID() string   { return d.msg.UUID }
func (d *pubSubDelivery) Body() []byte { return d.msg.Payload }

func (d *pubSubDelivery) Properties() Carrier {
	if d.msg.Metadata == nil {
		d.msg.Metadata = make(message.Metadata)
	}
	return StringProperties(d.msg.Metadata)
}

func (d *pubSubDelivery) Complete(context.Context) error {
	if !d.msg.Ack() {
		return fmt.Errorf("message %s was already rejected", d.msg.UUID)
	}
	return nil
}
