// Package propagation carries a causal context (trace identity plus baggage)
// across the queue boundary as W3C Trace Context and W3C Baggage message
// properties.
package propagation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/baggage"
	otelprop "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	"github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/transport"
)

// Property keys written into every message. Any consumer of the queue that
// wants to join the trace must read these exact names.
const (
	KeyTraceParent = "traceparent"
	KeyTraceState  = "tracestate"
	KeyBaggage     = "baggage"
)

// Keys lists the propagated property keys in injection order.
var Keys = []string{KeyTraceParent, KeyTraceState, KeyBaggage}

var errNilValue = errors.New("property value is nil")

// CausalContext is the trace/span identity plus baggage that correlates work
// on both sides of a queue.
type CausalContext struct {
	SpanContext trace.SpanContext
	Baggage     baggage.Baggage
}

// FromContext captures the span context and baggage active in ctx.
func FromContext(ctx context.Context) CausalContext {
	if ctx == nil {
		return CausalContext{}
	}
	return CausalContext{
		SpanContext: trace.SpanContextFromContext(ctx),
		Baggage:     baggage.FromContext(ctx),
	}
}

// IsEmpty reports whether there is neither a valid span context nor baggage.
func (c CausalContext) IsEmpty() bool {
	return !c.SpanContext.IsValid() && c.Baggage.Len() == 0
}

// Into derives a request-scoped context carrying c. Any span or baggage
// already present in ctx is replaced, so an empty CausalContext yields a
// context from which new spans start a fresh trace.
func (c CausalContext) Into(ctx context.Context) context.Context {
	if c.SpanContext.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, c.SpanContext)
	} else {
		ctx = trace.ContextWithSpanContext(ctx, trace.SpanContext{})
	}
	return baggage.ContextWithBaggage(ctx, c.Baggage)
}

// ErrorSink receives per-key propagation failures. Failures never abort an
// inject or extract.
type ErrorSink func(*errspkg.PropagationError)

// LogSink reports propagation failures through logger.
func LogSink(logger logging.ServiceLogger) ErrorSink {
	if logger == nil {
		return nil
	}
	return func(err *errspkg.PropagationError) {
		logger.Error("Trace context propagation failed", err, logging.LogFields{
			"operation": err.Op,
			"key":       err.Key,
		})
	}
}

// Propagator writes and reads CausalContext values on message carriers.
type Propagator struct {
	text    otelprop.TextMapPropagator
	onError ErrorSink
}

// New returns a Propagator using W3C Trace Context and W3C Baggage. A nil
// sink discards failures.
func New(onError ErrorSink) *Propagator {
	return &Propagator{
		text:    otelprop.NewCompositeTextMapPropagator(otelprop.TraceContext{}, otelprop.Baggage{}),
		onError: onError,
	}
}

// Inject writes cc into carrier. Re-injection overwrites previous values:
// keys cc has no value for are removed from the carrier. A key that cannot be
// written is reported and the remaining keys are still written.
func (p *Propagator) Inject(cc CausalContext, carrier transport.Carrier) {
	if carrier == nil {
		return
	}
	encoded := otelprop.MapCarrier{}
	p.text.Inject(cc.Into(context.Background()), encoded)

	for _, key := range Keys {
		value, ok := encoded[key]
		if !ok {
			if err := safeDelete(carrier, key); err != nil {
				p.report("inject", key, err)
			}
			continue
		}
		if err := safeSet(carrier, key, value); err != nil {
			p.report("inject", key, err)
		}
	}
}

// Extract reads a CausalContext from carrier. Absent or malformed values
// yield an empty CausalContext; per-key read failures are reported and
// treated as absent.
func (p *Propagator) Extract(carrier transport.Carrier) CausalContext {
	if carrier == nil {
		return CausalContext{}
	}
	decoded := otelprop.MapCarrier{}
	for _, key := range Keys {
		raw, ok, err := safeGet(carrier, key)
		if err != nil {
			p.report("extract", key, err)
			continue
		}
		if !ok {
			continue
		}
		value, err := stringify(raw)
		if err != nil {
			p.report("extract", key, err)
			continue
		}
		decoded[key] = value
	}
	if len(decoded) == 0 {
		return CausalContext{}
	}
	return FromContext(p.text.Extract(context.Background(), decoded))
}

func (p *Propagator) report(op, key string, err error) {
	if p.onError == nil {
		return
	}
	p.onError(&errspkg.PropagationError{Op: op, Key: key, Err: err})
}

func safeSet(carrier transport.Carrier, key, value string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("carrier panicked: %v", r)
		}
	}()
	return carrier.Set(key, value)
}

func safeDelete(carrier transport.Carrier, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("carrier panicked: %v", r)
		}
	}()
	return carrier.Delete(key)
}

func safeGet(carrier transport.Carrier, key string) (v any, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok, err = nil, false, fmt.Errorf("carrier panicked: %v", r)
		}
	}()
	v, ok = carrier.Get(key)
	return v, ok, nil
}

// stringify converts a loosely typed property value to a string. It never
// panics.
func stringify(v any) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", fmt.Errorf("converting %T panicked: %v", v, r)
		}
	}()

	switch t := v.(type) {
	case nil:
		return "", errNilValue
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("unsupported property type %T", v)
	}
}
