package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	"github.com/drblury/tracedqueue/internal/runtime/config"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/transport"
	// Register every built-in transport.
	_ "github.com/drblury/tracedqueue/transport/transports"
)

const flushTimeout = 5 * time.Second

// app holds what both subcommands share: configuration, logging, tracing,
// metrics and the transport connector.
type app struct {
	cfg            *config.Config
	logger         loggingpkg.ServiceLogger
	tracerProvider trace.TracerProvider
	shutdownTracer func(context.Context) error
	metrics        *runtimepkg.QueueMetrics
	metricsHandler http.Handler
	connector      transport.Connector
	service        *runtimepkg.Service
}

func newApp(ctx context.Context, v *viper.Viper, out io.Writer, role string) (*app, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(out, v.GetString("log_level"))
	if err != nil {
		return nil, err
	}
	logger = logger.With(loggingpkg.LogFields{"role": role, "instance": cfg.InstanceName})
	logger.Debug("Configuration loaded", loggingpkg.LogFields{"config": cfg.String()})

	tp, shutdownTracer, err := newTracerProvider(out, "contagem-"+role, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:            cfg,
		logger:         logger,
		tracerProvider: tp,
		shutdownTracer: shutdownTracer,
		service:        runtimepkg.NewService(logger),
	}

	a.metrics, a.metricsHandler, err = newMetrics()
	if err != nil {
		return nil, errors.Join(err, a.close())
	}

	a.connector, err = transport.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, errors.Join(err, a.close())
	}
	return a, nil
}

func (a *app) dependencies(producer string) runtimepkg.Dependencies {
	return runtimepkg.Dependencies{
		TracerProvider: a.tracerProvider,
		Metrics:        a.metrics,
		Producer:       producer,
	}
}

// mountObservability serves /metrics and the queue statistics on the
// metrics port when metrics are enabled.
func (a *app) mountObservability() {
	if !a.cfg.MetricsEnabled {
		return
	}
	addr := metricsAddress(a.cfg)
	a.service.RegisterHTTPHandler(addr, "/metrics", a.metricsHandler)
	a.service.RegisterHTTPHandler(addr, runtimepkg.StatsPath,
		runtimepkg.StatsHandler(a.metrics, a.cfg.CORSAllowedOrigins, a.logger))
}

// close flushes pending spans.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return a.shutdownTracer(ctx)
}
