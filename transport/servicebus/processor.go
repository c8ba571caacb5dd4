package servicebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	"github.com/drblury/tracedqueue/transport"
)

const receiveRetryDelay = time.Second

// processor runs a peek-lock receive loop with at most MaxConcurrentCalls
// handlers in flight.
type processor struct {
	receiver MessageReceiver
	queue    string
	logger   watermill.LoggerAdapter
	sem      chan struct{}

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inFlight sync.WaitGroup
}

func newProcessor(r MessageReceiver, queue string, opts transport.ProcessorOptions, logger watermill.LoggerAdapter) *processor {
	concurrency := opts.MaxConcurrentCalls
	if concurrency <= 0 {
		concurrency = 1
	}
	return &processor{
		receiver: r,
		queue:    queue,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
	}
}

func (p *processor) Start(ctx context.Context, onDelivery transport.DeliveryHandler, onError transport.ErrorHandler) error {
	if onDelivery == nil {
		return errspkg.ErrHandlerRequired
	}
	if onError == nil {
		onError = func(context.Context, error) {}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errspkg.ErrWorkerRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Handlers outlive the receive loop so in-flight messages still settle
	// after Close stops receiving.
	handlerCtx := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(handlerCtx)
	p.started = true
	p.cancel = cancel
	p.loopDone = make(chan struct{})

	go p.loop(loopCtx, handlerCtx, onDelivery, onError)
	return nil
}

func (p *processor) loop(ctx, handlerCtx context.Context, onDelivery transport.DeliveryHandler, onError transport.ErrorHandler) {
	defer close(p.loopDone)

	for {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		// One slot is held; ask for every slot that is still free.
		capacity := 1 + cap(p.sem) - len(p.sem)

		msgs, err := p.receiver.ReceiveMessages(ctx, capacity, nil)
		if err != nil {
			<-p.sem
			if ctx.Err() != nil {
				return
			}
			onError(ctx, fmt.Errorf("servicebus: receive from %q: %w", p.queue, err))
			select {
			case <-time.After(receiveRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(msgs) == 0 {
			<-p.sem
			continue
		}

		for i, msg := range msgs {
			if i > 0 {
				p.sem <- struct{}{}
			}
			p.inFlight.Add(1)
			go func(d *delivery) {
				defer p.inFlight.Done()
				defer func() { <-p.sem }()
				onDelivery(handlerCtx, d)
			}(&delivery{msg: msg, receiver: p.receiver})
		}
	}
}

// Close stops receiving, waits for in-flight handlers bounded by ctx, then
// closes the receiver.
func (p *processor) Close(ctx context.Context) error {
	p.mu.Lock()
	started, cancel, loopDone := p.started, p.cancel, p.loopDone
	p.mu.Unlock()

	if started {
		cancel()
		<-loopDone

		drained := make(chan struct{})
		go func() {
			p.inFlight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			p.logger.Info("Stopped waiting for in-flight messages", watermill.LogFields{"queue": p.queue})
			return errors.Join(ctx.Err(), p.receiver.Close(context.WithoutCancel(ctx)))
		}
	}
	return p.receiver.Close(ctx)
}
