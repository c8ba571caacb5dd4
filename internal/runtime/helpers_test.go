package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/transport"
)

type testPayload struct {
	Fila     string
	Contagem int
}

// testBroker is an in-memory broker that records every lifecycle call.
type testBroker struct {
	mu        sync.Mutex
	published map[string][]transport.Message
	events    []string
	opened    int

	budget      int64
	system      string
	openErr     error
	newSendErr  error
	sendErr     error
	procErr     error
	startErr    error
	closeErr    error
	releaseCtxs []error
}

func newTestBroker() *testBroker {
	return &testBroker{published: make(map[string][]transport.Message)}
}

func (b *testBroker) record(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *testBroker) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *testBroker) Published(queue string) []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.Message(nil), b.published[queue]...)
}

func (b *testBroker) Capabilities() transport.Capabilities {
	return transport.Capabilities{Name: "testbroker", System: b.system, MaxMessageSize: b.budget}
}

func (b *testBroker) Open(ctx context.Context) (transport.Connection, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.mu.Lock()
	b.opened++
	b.mu.Unlock()
	b.record("conn.open")
	return &testConnection{broker: b}, nil
}

type testConnection struct {
	broker    *testBroker
	processor *testProcessor
}

func (c *testConnection) NewSender(ctx context.Context, queue string) (transport.Sender, error) {
	if c.broker.newSendErr != nil {
		return nil, c.broker.newSendErr
	}
	c.broker.record("sender.open")
	return &testSender{broker: c.broker, queue: queue}, nil
}

func (c *testConnection) NewProcessor(ctx context.Context, queue string, opts transport.ProcessorOptions) (transport.Processor, error) {
	if c.broker.procErr != nil {
		return nil, c.broker.procErr
	}
	c.processor = &testProcessor{broker: c.broker, queue: queue, opts: opts}
	return c.processor, nil
}

func (c *testConnection) Close(ctx context.Context) error {
	c.broker.mu.Lock()
	c.broker.releaseCtxs = append(c.broker.releaseCtxs, ctx.Err())
	c.broker.mu.Unlock()
	c.broker.record("conn.close")
	return c.broker.closeErr
}

type testSender struct {
	broker *testBroker
	queue  string
}

func (s *testSender) NewBatch(ctx context.Context) (transport.Batch, error) {
	return transport.NewBudgetBatch(s.broker.budget), nil
}

func (s *testSender) SendBatch(ctx context.Context, batch transport.Batch) error {
	if s.broker.sendErr != nil {
		return s.broker.sendErr
	}
	msgs := batch.(interface{ Messages() []transport.Message }).Messages()
	s.broker.mu.Lock()
	s.broker.published[s.queue] = append(s.broker.published[s.queue], msgs...)
	s.broker.mu.Unlock()
	s.broker.record("sender.send")
	return nil
}

func (s *testSender) Close(ctx context.Context) error {
	s.broker.mu.Lock()
	s.broker.releaseCtxs = append(s.broker.releaseCtxs, ctx.Err())
	s.broker.mu.Unlock()
	s.broker.record("sender.close")
	return nil
}

type testProcessor struct {
	broker     *testBroker
	queue      string
	opts       transport.ProcessorOptions
	onDelivery transport.DeliveryHandler
	onError    transport.ErrorHandler
}

func (p *testProcessor) Start(ctx context.Context, onDelivery transport.DeliveryHandler, onError transport.ErrorHandler) error {
	if p.broker.startErr != nil {
		return p.broker.startErr
	}
	p.onDelivery = onDelivery
	p.onError = onError
	p.broker.record("processor.start")
	return nil
}

func (p *testProcessor) Close(ctx context.Context) error {
	p.broker.record("processor.close")
	return nil
}

// deliver pushes every message published to the processor's queue through
// the registered handler.
func (p *testProcessor) deliver(ctx context.Context) []*testDelivery {
	var out []*testDelivery
	for _, msg := range p.broker.Published(p.queue) {
		d := &testDelivery{id: msg.ID, body: msg.Body, props: msg.Properties.Clone()}
		p.onDelivery(ctx, d)
		out = append(out, d)
	}
	return out
}

type testDelivery struct {
	id    string
	body  []byte
	props transport.Carrier

	mu          sync.Mutex
	completed   int
	completeErr error
}

func (d *testDelivery) ID() string                    { return d.id }
func (d *testDelivery) Body() []byte                  { return d.body }
func (d *testDelivery) Properties() transport.Carrier { return d.props }

func (d *testDelivery) Complete(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed++
	return d.completeErr
}

func (d *testDelivery) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

func newTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func endedSpan(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	t.Fatalf("no ended span named %q", name)
	return nil
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  loggingpkg.LogFields
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) log(level, msg string, err error, fields loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) { r.log("debug", msg, nil, fields) }
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields)  { r.log("info", msg, nil, fields) }
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) { r.log("trace", msg, nil, fields) }
func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.log("error", msg, err, fields)
}

func (r *recordingLogger) Entries() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logEntry(nil), *r.entries...)
}

func (r *recordingLogger) count(msg string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.msg == msg {
			n++
		}
	}
	return n
}

func (r *recordingLogger) hasError(target error) bool {
	for _, e := range r.Entries() {
		if e.err != nil && errors.Is(e.err, target) {
			return true
		}
	}
	return false
}
