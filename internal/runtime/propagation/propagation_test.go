package propagation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	"github.com/drblury/tracedqueue/transport"
)

func testCausalContext(t *testing.T, members map[string]string) CausalContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	state, err := trace.ParseTraceState("vendor=value")
	require.NoError(t, err)

	var list []baggage.Member
	for k, v := range members {
		m, err := baggage.NewMember(k, v)
		require.NoError(t, err)
		list = append(list, m)
	}
	bag, err := baggage.New(list...)
	require.NoError(t, err)

	return CausalContext{
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
			TraceState: state,
		}),
		Baggage: bag,
	}
}

func assertSameCausalContext(t *testing.T, want, got CausalContext) {
	t.Helper()
	assert.Equal(t, want.SpanContext.TraceID(), got.SpanContext.TraceID())
	assert.Equal(t, want.SpanContext.SpanID(), got.SpanContext.SpanID())
	assert.Equal(t, want.SpanContext.TraceFlags(), got.SpanContext.TraceFlags())
	assert.Equal(t, want.SpanContext.TraceState().String(), got.SpanContext.TraceState().String())
	assert.Equal(t, want.Baggage.Len(), got.Baggage.Len())
	for _, m := range want.Baggage.Members() {
		assert.Equal(t, m.Value(), got.Baggage.Member(m.Key()).Value(), "baggage %s", m.Key())
	}
}

type sinkRecorder struct {
	errs []*errspkg.PropagationError
}

func (r *sinkRecorder) sink(err *errspkg.PropagationError) { r.errs = append(r.errs, err) }

func TestInjectExtractRoundTrip(t *testing.T) {
	p := New(nil)
	cc := testCausalContext(t, map[string]string{"tenant": "acme", "request": "r-1"})

	carrier := transport.StringProperties{}
	p.Inject(cc, carrier)

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier[KeyTraceParent])
	assert.Equal(t, "vendor=value", carrier[KeyTraceState])
	assert.NotEmpty(t, carrier[KeyBaggage])

	got := p.Extract(carrier)
	assert.True(t, got.SpanContext.IsRemote())
	assertSameCausalContext(t, cc, got)
}

func TestInjectIsIdempotent(t *testing.T) {
	p := New(nil)
	first := testCausalContext(t, map[string]string{"tenant": "acme"})
	second := testCausalContext(t, map[string]string{"tenant": "globex"})

	carrier := transport.StringProperties{}
	p.Inject(first, carrier)
	p.Inject(first, carrier)
	assert.Len(t, carrier, 3)

	p.Inject(second, carrier)
	assert.Equal(t, "globex", p.Extract(carrier).Baggage.Member("tenant").Value())
}

func TestInjectRemovesKeysMissingFromNewContext(t *testing.T) {
	p := New(nil)
	carrier := transport.StringProperties{}
	p.Inject(testCausalContext(t, map[string]string{"tenant": "acme"}), carrier)
	require.Len(t, carrier, 3)

	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)
	bare := CausalContext{SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})}
	p.Inject(bare, carrier)

	assert.Equal(t, []string{KeyTraceParent}, carrier.Keys())
	got := p.Extract(carrier)
	assert.Equal(t, traceID, got.SpanContext.TraceID())
	assert.Empty(t, got.SpanContext.TraceState().String())
	assert.Zero(t, got.Baggage.Len())
}

func TestInjectEmptyContextClearsCarrier(t *testing.T) {
	rec := &sinkRecorder{}
	p := New(rec.sink)
	carrier := transport.StringProperties{"other": "kept"}
	p.Inject(testCausalContext(t, map[string]string{"tenant": "acme"}), carrier)

	p.Inject(CausalContext{}, carrier)

	assert.Equal(t, transport.StringProperties{"other": "kept"}, carrier)
	assert.True(t, p.Extract(carrier).IsEmpty())
	assert.Empty(t, rec.errs)
}

type failingCarrier struct {
	transport.StringProperties
	failKey  string
	panicKey string
}

func (f failingCarrier) Set(key, value string) error {
	if key == f.panicKey {
		panic("boom")
	}
	if key == f.failKey {
		return errors.New("write rejected")
	}
	return f.StringProperties.Set(key, value)
}

func TestInjectContinuesAfterKeyFailure(t *testing.T) {
	rec := &sinkRecorder{}
	p := New(rec.sink)
	cc := testCausalContext(t, map[string]string{"tenant": "acme"})

	carrier := failingCarrier{StringProperties: transport.StringProperties{}, failKey: KeyTraceParent, panicKey: KeyTraceState}
	p.Inject(cc, carrier)

	assert.NotContains(t, carrier.StringProperties, KeyTraceParent)
	assert.NotContains(t, carrier.StringProperties, KeyTraceState)
	assert.Contains(t, carrier.StringProperties, KeyBaggage)

	require.Len(t, rec.errs, 2)
	assert.Equal(t, "inject", rec.errs[0].Op)
	assert.Equal(t, KeyTraceParent, rec.errs[0].Key)
	assert.Equal(t, KeyTraceState, rec.errs[1].Key)

	got := p.Extract(carrier)
	assert.False(t, got.SpanContext.IsValid())
	assert.Equal(t, "acme", got.Baggage.Member("tenant").Value())
}

func TestInjectIntoNilCarrierReportsEveryKey(t *testing.T) {
	rec := &sinkRecorder{}
	p := New(rec.sink)

	var carrier transport.StringProperties
	p.Inject(testCausalContext(t, map[string]string{"k": "v"}), carrier)

	require.Len(t, rec.errs, 3)
	for _, err := range rec.errs {
		assert.ErrorIs(t, err, transport.ErrNilCarrier)
	}
}

func TestExtractMissingOrMalformed(t *testing.T) {
	p := New(nil)

	assert.True(t, p.Extract(transport.StringProperties{}).IsEmpty())
	assert.True(t, p.Extract(nil).IsEmpty())
	assert.True(t, p.Extract(transport.StringProperties{
		KeyTraceParent: "not-a-traceparent",
		KeyBaggage:     "%%%",
	}).IsEmpty())
}

type stringerValue struct{ v string }

func (s stringerValue) String() string { return s.v }

type panickingStringer struct{}

func (panickingStringer) String() string { panic("stringer exploded") }

func TestExtractLooselyTypedValues(t *testing.T) {
	p := New(nil)
	cc := testCausalContext(t, map[string]string{"tenant": "acme"})

	encoded := transport.StringProperties{}
	p.Inject(cc, encoded)

	loose := transport.AnyProperties{
		KeyTraceParent: []byte(encoded[KeyTraceParent]),
		KeyTraceState:  stringerValue{v: encoded[KeyTraceState]},
		KeyBaggage:     encoded[KeyBaggage],
	}
	assertSameCausalContext(t, cc, p.Extract(loose))
}

func TestExtractReportsUnreadableValues(t *testing.T) {
	rec := &sinkRecorder{}
	p := New(rec.sink)
	cc := testCausalContext(t, map[string]string{"tenant": "acme"})

	encoded := transport.StringProperties{}
	p.Inject(cc, encoded)

	loose := transport.AnyProperties{
		KeyTraceParent: encoded[KeyTraceParent],
		KeyTraceState:  panickingStringer{},
		KeyBaggage:     struct{ X int }{X: 1},
	}
	got := p.Extract(loose)

	assert.Equal(t, cc.SpanContext.TraceID(), got.SpanContext.TraceID())
	assert.Equal(t, 0, got.Baggage.Len())
	require.Len(t, rec.errs, 2)
	assert.Equal(t, "extract", rec.errs[0].Op)
	assert.Equal(t, KeyTraceState, rec.errs[0].Key)
	assert.Equal(t, KeyBaggage, rec.errs[1].Key)
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in      any
		want    string
		wantErr bool
	}{
		{in: "s", want: "s"},
		{in: []byte("b"), want: "b"},
		{in: 42, want: "42"},
		{in: true, want: "true"},
		{in: 1.5, want: "1.5"},
		{in: stringerValue{v: "x"}, want: "x"},
		{in: nil, wantErr: true},
		{in: panickingStringer{}, wantErr: true},
		{in: []int{1}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := stringify(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%#v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestIntoReplacesAmbientContext(t *testing.T) {
	cc := testCausalContext(t, map[string]string{"tenant": "acme"})
	ctx := cc.Into(context.Background())

	got := FromContext(ctx)
	assertSameCausalContext(t, cc, got)
	assert.True(t, got.SpanContext.IsRemote())

	cleared := CausalContext{}.Into(ctx)
	assert.True(t, FromContext(cleared).IsEmpty())
}
