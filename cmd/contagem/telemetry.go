package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelprop "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	"github.com/drblury/tracedqueue/internal/runtime/config"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
)

func newLogger(w io.Writer, level string) (loggingpkg.ServiceLogger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	base := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	return loggingpkg.NewSlogServiceLogger(base), nil
}

// newTracerProvider installs the global tracer provider and the W3C trace
// context and baggage propagators. Spans are printed to w when tracing is
// enabled. The returned function flushes pending spans.
func newTracerProvider(w io.Writer, service string, cfg *config.Config) (trace.TracerProvider, func(context.Context) error, error) {
	otel.SetTextMapPropagator(otelprop.NewCompositeTextMapPropagator(
		otelprop.TraceContext{},
		otelprop.Baggage{},
	))

	if !cfg.TracingEnabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("service.instance.id", cfg.InstanceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// newMetrics creates a dedicated registry holding the queue metrics and the
// Go runtime collectors, together with its scrape handler.
func newMetrics() (*runtimepkg.QueueMetrics, http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, nil, err
	}
	metrics := runtimepkg.NewQueueMetrics(reg)
	if err := metrics.Register(); err != nil {
		return nil, nil, err
	}
	return metrics, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
}

func metricsAddress(cfg *config.Config) string {
	return fmt.Sprintf(":%d", cfg.MetricsPort)
}
