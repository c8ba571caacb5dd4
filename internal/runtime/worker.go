package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	codecpkg "github.com/drblury/tracedqueue/internal/runtime/codec"
	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	handlerpkg "github.com/drblury/tracedqueue/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/runtime/propagation"
	"github.com/drblury/tracedqueue/transport"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	settleTimeout          = 30 * time.Second
)

// WorkerConfig configures a Worker.
type WorkerConfig[T any] struct {
	Connector transport.Connector
	Queue     string
	Handler   handlerpkg.Handler[T]
	// Codec defaults to JSON.
	Codec  codecpkg.Codec[T]
	Logger loggingpkg.ServiceLogger
	// ErrorHandler receives transport errors. Defaults to logging them.
	ErrorHandler transport.ErrorHandler
	Dependencies Dependencies
	// Hooks observe every delivery.
	Hooks JobHooks

	// MaxConcurrentCalls bounds concurrent handler invocations where the
	// transport supports it.
	MaxConcurrentCalls int
	// ShutdownTimeout bounds how long Stop waits for in-flight handlers.
	ShutdownTimeout time.Duration
	// HeartbeatInterval enables a periodic "worker active" log line.
	HeartbeatInterval time.Duration
}

// Worker receives messages from one queue, restores their causal context,
// decodes them and hands them to a processing handler. Every message is
// completed after handling, whatever the outcome.
type Worker[T any] struct {
	connector   transport.Connector
	queue       string
	handler     handlerpkg.Handler[T]
	codec       codecpkg.Codec[T]
	logger      loggingpkg.ServiceLogger
	onTransport transport.ErrorHandler
	tracer      trace.Tracer
	propagator  *propagation.Propagator
	metrics     *QueueMetrics
	system      string
	opts        transport.ProcessorOptions
	shutdown    time.Duration
	heartbeat   time.Duration
	hooks       JobHooks

	mu            sync.Mutex
	conn          transport.Connection
	processor     transport.Processor
	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
}

// NewWorker validates cfg and builds a Worker. The worker does not touch the
// broker until Start.
func NewWorker[T any](cfg WorkerConfig[T]) (*Worker[T], error) {
	if cfg.Connector == nil {
		return nil, errspkg.ErrConnectorRequired
	}
	if cfg.Queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if cfg.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.Codec == nil {
		cfg.Codec = codecpkg.NewJSON[T]()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	deps := cfg.Dependencies
	if deps.Metrics != nil {
		if err := deps.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register queue metrics: %w", err)
		}
	}

	logger := cfg.Logger.With(loggingpkg.LogFields{"queue": cfg.Queue})
	w := &Worker[T]{
		connector:  cfg.Connector,
		queue:      cfg.Queue,
		handler:    cfg.Handler,
		codec:      cfg.Codec,
		logger:     logger,
		tracer:     deps.tracer(),
		propagator: deps.propagator(logger),
		metrics:    deps.Metrics,
		system:     deps.system(cfg.Connector),
		opts: transport.ProcessorOptions{
			MaxConcurrentCalls: cfg.MaxConcurrentCalls,
			CloseTimeout:       cfg.ShutdownTimeout,
			Registerer:         deps.Registerer(),
		},
		shutdown:  cfg.ShutdownTimeout,
		heartbeat: cfg.HeartbeatInterval,
		hooks:     cfg.Hooks,
	}
	w.onTransport = cfg.ErrorHandler
	if w.onTransport == nil {
		w.onTransport = w.logTransportError
	}
	return w, nil
}

// Start opens the connection and begins pumping messages in the background.
// The connection is held until Stop.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.processor != nil {
		return errspkg.ErrWorkerRunning
	}

	conn, err := w.connector.Open(ctx)
	if err != nil {
		return fmt.Errorf("open connection for queue %q: %w", w.queue, err)
	}
	processor, err := conn.NewProcessor(ctx, w.queue, w.opts)
	if err != nil {
		return errors.Join(fmt.Errorf("create processor for queue %q: %w", w.queue, err), conn.Close(context.WithoutCancel(ctx)))
	}
	if err := processor.Start(ctx, w.onDelivery, w.onTransport); err != nil {
		return errors.Join(fmt.Errorf("start processor for queue %q: %w", w.queue, err), conn.Close(context.WithoutCancel(ctx)))
	}

	w.conn = conn
	w.processor = processor
	w.startHeartbeat(ctx)

	w.logger.Info("Worker started", loggingpkg.LogFields{
		"system":               w.system,
		"max_concurrent_calls": w.opts.MaxConcurrentCalls,
	})
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (w *Worker[T]) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processor != nil
}

// Stop closes the processor, waiting for in-flight handlers within the
// shutdown window, and then closes the connection.
func (w *Worker[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	processor, conn := w.processor, w.conn
	stopHeartbeat, heartbeatDone := w.stopHeartbeat, w.heartbeatDone
	w.processor, w.conn, w.stopHeartbeat, w.heartbeatDone = nil, nil, nil, nil
	w.mu.Unlock()

	if processor == nil {
		return errspkg.ErrWorkerNotRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if stopHeartbeat != nil {
		stopHeartbeat()
		<-heartbeatDone
	}

	stopCtx, cancel := context.WithTimeout(ctx, w.shutdown)
	defer cancel()

	var errs []error
	if err := processor.Close(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("close processor: %w", err))
	}

	connCtx, connCancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdown)
	defer connCancel()
	if err := conn.Close(connCtx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		w.logger.Error("Worker stopped with errors", err, nil)
	} else {
		w.logger.Info("Worker stopped", nil)
	}
	return err
}

func (w *Worker[T]) onDelivery(ctx context.Context, delivery transport.Delivery) {
	w.HandleDelivery(ctx, delivery)
}

// HandleDelivery runs the full receive pipeline for one delivery and returns
// its outcome. The delivery is always completed.
func (w *Worker[T]) HandleDelivery(ctx context.Context, delivery transport.Delivery) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	body := delivery.Body()

	cc := w.propagator.Extract(delivery.Properties())
	ctx = cc.Into(ctx)

	ctx, span := w.tracer.Start(ctx, spanName(w.queue, "receive"),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(messagingAttributes(w.system, w.queue, delivery.ID(), body)...),
	)
	defer span.End()

	logger := w.logger.With(loggingpkg.TraceFields(ctx, loggingpkg.LogFields{
		"message_id": delivery.ID(),
	}))

	job := JobContext{
		Queue:      w.queue,
		MessageID:  delivery.ID(),
		Properties: delivery.Properties(),
		Context:    ctx,
		StartedAt:  started,
	}
	if w.hooks.OnJobStart != nil {
		runHook(logger, "OnJobStart", func() { w.hooks.OnJobStart(job) })
	}

	outcome, err := w.process(ctx, span, logger, delivery, body)

	job.Duration = time.Since(started)
	job.Outcome = outcome
	switch {
	case err != nil && w.hooks.OnJobError != nil:
		runHook(logger, "OnJobError", func() { w.hooks.OnJobError(job, err) })
	case err == nil && w.hooks.OnJobDone != nil:
		runHook(logger, "OnJobDone", func() { w.hooks.OnJobDone(job) })
	}

	w.settle(ctx, logger, delivery, outcome)
	w.metrics.RecordReceive(w.queue, outcome, time.Since(started))
	return outcome
}

func (w *Worker[T]) process(ctx context.Context, span trace.Span, logger loggingpkg.ServiceLogger, delivery transport.Delivery, body []byte) (Outcome, error) {
	payload, err := w.codec.Decode(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		logger.Error("Failed to decode message, completing it without processing", err, nil)
		return OutcomeDecodeFailed, err
	}

	err = handlerpkg.Invoke(ctx, w.handler, handlerpkg.MessageContext[T]{
		Payload:    payload,
		MessageID:  delivery.ID(),
		Queue:      w.queue,
		Properties: delivery.Properties(),
		Logger:     logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		logger.Error("Processing handler failed, completing message", err, nil)
		return OutcomeProcessingFailed, err
	}

	logger.Debug("Message processed", nil)
	return OutcomeProcessed, nil
}

// settle completes the delivery for every outcome. Completion failures are
// transport errors.
func (w *Worker[T]) settle(ctx context.Context, logger loggingpkg.ServiceLogger, delivery transport.Delivery, outcome Outcome) {
	switch outcome {
	case OutcomeProcessed, OutcomeDecodeFailed, OutcomeProcessingFailed:
	default:
		logger.Error("Unknown handling outcome, completing message", fmt.Errorf("outcome %d", outcome), nil)
	}

	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := delivery.Complete(completeCtx); err != nil {
		w.onTransport(ctx, fmt.Errorf("complete message %s (%s): %w", delivery.ID(), outcome, err))
	}
}

func (w *Worker[T]) logTransportError(_ context.Context, err error) {
	w.logger.Error("Transport error", err, nil)
}

func (w *Worker[T]) startHeartbeat(ctx context.Context) {
	if w.heartbeat <= 0 {
		return
	}
	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	w.stopHeartbeat = cancel
	w.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case now := <-ticker.C:
				w.logger.Info("Worker active", loggingpkg.LogFields{"at": now.UTC().Format(time.RFC3339)})
			}
		}
	}()
}
