// Package tracedqueue sends typed messages through a queue without losing the
// trace they belong to. A Sender encodes a payload, opens a producer span
// named "<queue> send" and writes the W3C trace context and baggage into the
// message properties. A Worker reads them back, starts a consumer span
// "<queue> receive" as a child of the producer span, restores the baggage and
// hands the decoded payload to a Handler. Every delivered message is completed
// exactly once, whatever the outcome: malformed bodies and handler failures
// are logged and dropped, never redelivered.
//
// The broker is chosen by Config.Transport from the transport registry.
// Import the built-in adapters with
//
//	import _ "github.com/drblury/tracedqueue/transport/transports"
//
// # Transports
//
//   - servicebus: Azure Service Bus over AMQP or AMQP over WebSockets
//   - channel: in-process bus for tests and single-binary setups
//   - sqlite: durable file queue with pending message introspection
//   - rabbitmq: AMQP durable queues
//   - kafka: consumer groups starting at the oldest offset
//   - nats: core NATS with queue groups
//   - aws: Amazon SQS, LocalStack friendly
//   - http: Watermill HTTP publisher and subscriber
//
// # Observability
//
// Senders and workers take an optional TracerProvider and QueueMetrics through
// Dependencies. QueueMetrics registers Prometheus collectors and keeps rolling
// latency and throughput windows that StatsHandler serves as JSON. JobHooks
// observe every delivery with its outcome and duration.
//
// A minimal round trip:
//
//	connector, _ := tracedqueue.BuildTransport(ctx, &tracedqueue.Config{Transport: "channel"}, logger)
//	worker, _ := tracedqueue.NewWorker(tracedqueue.WorkerConfig[Order]{
//		Connector: connector,
//		Queue:     "orders",
//		Handler:   handler,
//		Logger:    logger,
//	})
//	_ = worker.Start(ctx)
//	sender, _ := tracedqueue.NewSender[Order](connector, logger, tracedqueue.Dependencies{})
//	_, _ = sender.Send(ctx, "orders", Order{ID: 42})
package tracedqueue
