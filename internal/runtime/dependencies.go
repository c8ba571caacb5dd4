package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/runtime/propagation"
	"github.com/drblury/tracedqueue/transport"
)

// Dependencies carries the optional collaborators shared by senders and
// workers. Zero values fall back to sensible defaults.
type Dependencies struct {
	// TracerProvider defaults to the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
	// Metrics records per-queue statistics when set.
	Metrics *QueueMetrics
	// System is reported as messaging.system. Defaults to the messaging
	// system named by the connector's capabilities.
	System string
	// Producer is stamped on published messages.
	Producer string
	// PropagationErrors receives per-key trace context failures. Defaults to
	// logging them.
	PropagationErrors propagation.ErrorSink
}

// Registerer exposes the metrics registerer so transports can attach their own
// collectors next to the queue metrics.
func (d Dependencies) Registerer() prometheus.Registerer {
	if d.Metrics == nil {
		return nil
	}
	return d.Metrics.registerer
}

func (d Dependencies) tracer() trace.Tracer {
	tp := d.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func (d Dependencies) propagator(logger loggingpkg.ServiceLogger) *propagation.Propagator {
	sink := d.PropagationErrors
	if sink == nil {
		sink = propagation.LogSink(logger)
	}
	return propagation.New(sink)
}

func (d Dependencies) system(connector transport.Connector) string {
	if d.System != "" {
		return d.System
	}
	if provider, ok := connector.(transport.CapabilitiesProvider); ok {
		if name := provider.Capabilities().MessagingSystem(); name != "" {
			return name
		}
	}
	return "tracedqueue"
}
