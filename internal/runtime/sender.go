package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	codecpkg "github.com/drblury/tracedqueue/internal/runtime/codec"
	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	handlerpkg "github.com/drblury/tracedqueue/internal/runtime/handlers"
	idspkg "github.com/drblury/tracedqueue/internal/runtime/ids"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/runtime/propagation"
	"github.com/drblury/tracedqueue/transport"
)

const defaultReleaseTimeout = 30 * time.Second

// SendResult describes a published message.
type SendResult struct {
	MessageID string
	Queue     string
	// TraceID and SpanID identify the producer span, empty when no valid
	// span context was available.
	TraceID string
	SpanID  string
}

// Sender publishes typed payloads, one message per call, stamped with the
// caller's causal context. It keeps no state between calls; each Send opens
// and releases its own connection.
type Sender[T any] struct {
	connector  transport.Connector
	codec      codecpkg.Codec[T]
	logger     loggingpkg.ServiceLogger
	tracer     trace.Tracer
	propagator *propagation.Propagator
	metrics    *QueueMetrics
	system     string
	producer   string
}

// NewSender builds a Sender that encodes payloads as JSON.
func NewSender[T any](connector transport.Connector, logger loggingpkg.ServiceLogger, deps Dependencies) (*Sender[T], error) {
	return NewSenderWithCodec[T](connector, codecpkg.NewJSON[T](), logger, deps)
}

// NewSenderWithCodec builds a Sender using a custom codec.
func NewSenderWithCodec[T any](connector transport.Connector, codec codecpkg.Codec[T], logger loggingpkg.ServiceLogger, deps Dependencies) (*Sender[T], error) {
	if connector == nil {
		return nil, errspkg.ErrConnectorRequired
	}
	if codec == nil {
		codec = codecpkg.NewJSON[T]()
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register queue metrics: %w", err)
		}
	}
	return &Sender[T]{
		connector:  connector,
		codec:      codec,
		logger:     logger,
		tracer:     deps.tracer(),
		propagator: deps.propagator(logger),
		metrics:    deps.Metrics,
		system:     deps.system(connector),
		producer:   deps.Producer,
	}, nil
}

// Send encodes payload and publishes it to queue exactly once. The producer
// span is a child of the span in ctx; when ctx has no span its trace context
// and baggage are still propagated as found.
//
// A payload that does not fit the batch returns errors.ErrMessageTooLarge and
// nothing is published. Broker failures return *errors.PublishError. Neither
// is retried.
func (s *Sender[T]) Send(ctx context.Context, queue string, payload T) (SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := SendResult{Queue: queue}
	if queue == "" {
		return result, errspkg.ErrQueueNameRequired
	}
	logger := s.logger.With(loggingpkg.LogFields{"queue": queue})

	body, err := s.codec.Encode(payload)
	if err != nil {
		s.metrics.RecordSend(queue, SendResultEncodeFailed)
		return result, fmt.Errorf("encode payload for queue %q: %w", queue, err)
	}

	conn, err := s.connector.Open(ctx)
	if err != nil {
		return result, s.publishFailed(logger, queue, "open connection", err)
	}
	defer s.release(ctx, logger, "connection", conn.Close)

	sender, err := conn.NewSender(ctx, queue)
	if err != nil {
		return result, s.publishFailed(logger, queue, "create queue sender", err)
	}
	defer s.release(ctx, logger, "queue sender", sender.Close)

	batch, err := sender.NewBatch(ctx)
	if err != nil {
		return result, s.publishFailed(logger, queue, "create batch", err)
	}

	msg := transport.Message{
		ID:   idspkg.NewMessageID(),
		Body: body,
		Properties: transport.StringProperties{
			handlerpkg.MetadataKeyContentType: contentType(s.codec),
			handlerpkg.MetadataKeyEnqueuedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if s.producer != "" {
		msg.Properties[handlerpkg.MetadataKeyProducer] = s.producer
	}
	result.MessageID = msg.ID

	spanCtx, span := s.tracer.Start(ctx, spanName(queue, "send"),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messagingAttributes(s.system, queue, msg.ID, body)...),
	)
	defer span.End()

	// Headers count against the batch budget, so they go in before Add.
	s.propagator.Inject(propagation.FromContext(spanCtx), msg.Properties)
	if sc := span.SpanContext(); sc.IsValid() {
		result.TraceID = sc.TraceID().String()
		result.SpanID = sc.SpanID().String()
	}

	if err := batch.Add(msg); err != nil {
		span.RecordError(err)
		if errors.Is(err, errspkg.ErrMessageTooLarge) {
			span.SetStatus(codes.Error, "message too large")
			s.metrics.RecordSend(queue, SendResultTooLarge)
			logger.Error("Message does not fit into batch", err, loggingpkg.TraceFields(spanCtx, loggingpkg.LogFields{
				"message_id": msg.ID,
				"size":       msg.Size(),
			}))
			return result, fmt.Errorf("send to queue %q: %w", queue, err)
		}
		span.SetStatus(codes.Error, "add to batch failed")
		return result, s.publishFailed(logger, queue, "add to batch", err)
	}

	if err := sender.SendBatch(spanCtx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return result, s.publishFailed(logger.With(loggingpkg.TraceFields(spanCtx, nil)), queue, "send batch", err)
	}

	s.metrics.RecordSend(queue, SendResultSuccess)
	logger.Info("Message published", loggingpkg.TraceFields(spanCtx, loggingpkg.LogFields{
		"message_id": msg.ID,
	}))
	return result, nil
}

func (s *Sender[T]) publishFailed(logger loggingpkg.ServiceLogger, queue, step string, err error) error {
	s.metrics.RecordSend(queue, SendResultFailed)
	logger.Error("Failed to publish message", err, loggingpkg.LogFields{"step": step})
	return &errspkg.PublishError{Queue: queue, Err: fmt.Errorf("%s: %w", step, err)}
}

// release runs on every exit path of Send, including after ctx was
// cancelled.
func (s *Sender[T]) release(ctx context.Context, logger loggingpkg.ServiceLogger, what string, closeFn func(context.Context) error) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReleaseTimeout)
	defer cancel()
	if err := closeFn(releaseCtx); err != nil {
		logger.Error("Failed to release "+what, err, nil)
	}
}

func contentType[T any](c codecpkg.Codec[T]) string {
	if c.Name() == "json" {
		return codecpkg.ContentTypeJSON
	}
	return c.Name()
}
