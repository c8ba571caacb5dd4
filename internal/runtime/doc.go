/*
Package runtime implements the traced queue pipeline for tracedqueue.

# Architecture Overview

A Sender publishes one typed payload per call through a transport.Connector.
Before the message is added to a batch, the caller's span context and
baggage are written into its properties as W3C traceparent, tracestate and
baggage values. A Worker receives messages from one queue, restores that
causal context, decodes the body and calls the processing handler. Every
message is completed after handling, whether it was processed, malformed or
rejected by the handler.

# Package Structure

## Sender (sender.go)

Opens a connection, a queue sender and a batch for every Send and releases
them on every exit path. Oversized messages fail with
errors.ErrMessageTooLarge and nothing is published.

## Worker (worker.go, hooks.go)

Drives a transport.Processor, bounded by MaxConcurrentCalls where the
transport supports it. JobHooks observe each delivery; a periodic heartbeat
log line is optional.

## Telemetry (telemetry.go, metrics.go, stats.go, resources.go)

Producer and consumer spans named "<queue> send" and "<queue> receive" with
the messaging.* attributes, Prometheus counters and histograms, and an
in-process snapshot with latency percentiles, throughput and resource usage.

## HTTP (service.go, webui.go)

Service hosts the HTTP endpoints of a process on chi routers, one per listen
address. StatsHandler serves the queue snapshot as JSON.

# Sub-packages

  - codec/: payload codecs (JSON via sonic)
  - config/: process configuration with validation and redaction
  - errors/: sentinel errors and error types
  - handlers/: processing handler types and message property keys
  - ids/: ULID message IDs
  - logging/: ServiceLogger interface and Watermill adapters
  - propagation/: W3C trace context and baggage over message properties

# Usage Example

	connector, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return err
	}

	sender, err := runtime.NewSender[contagem.Resultado](connector, logger, runtime.Dependencies{})
	result, err := sender.Send(ctx, "contagem", resultado)

	worker, err := runtime.NewWorker(runtime.WorkerConfig[contagem.Resultado]{
		Connector: connector,
		Queue:     "contagem",
		Handler:   processor,
		Logger:    logger,
	})
	err = worker.Start(ctx)
	defer worker.Stop(context.Background())
*/
package runtime
