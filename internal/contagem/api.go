package contagem

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprop "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
)

const tracerName = "github.com/drblury/tracedqueue/internal/contagem"

// ErrSenderRequired is returned by NewAPI without a Publisher.
var ErrSenderRequired = errors.New("contagem: sender is required")

// Publisher sends a Resultado to a queue. *runtime.Sender[Resultado]
// implements it.
type Publisher interface {
	Send(ctx context.Context, queue string, payload Resultado) (runtimepkg.SendResult, error)
}

// APIConfig configures the counter API.
type APIConfig struct {
	Sender Publisher
	Queue  string
	// Producer is stamped on every Resultado.
	Producer string
	// Mensagem defaults to DefaultMensagem.
	Mensagem string
	Logger   loggingpkg.ServiceLogger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// Contador defaults to a new counter starting at zero.
	Contador *Contador
}

// API serves GET /contador.
type API struct {
	sender     Publisher
	queue      string
	producer   string
	mensagem   string
	contador   *Contador
	logger     loggingpkg.ServiceLogger
	tracer     trace.Tracer
	propagator otelprop.TextMapPropagator
}

// NewAPI validates cfg and builds the API.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Sender == nil {
		return nil, ErrSenderRequired
	}
	if cfg.Queue == "" {
		return nil, errspkg.ErrQueueNameRequired
	}
	if cfg.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.Mensagem == "" {
		cfg.Mensagem = DefaultMensagem
	}
	if cfg.Contador == nil {
		cfg.Contador = &Contador{}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &API{
		sender:   cfg.Sender,
		queue:    cfg.Queue,
		producer: cfg.Producer,
		mensagem: cfg.Mensagem,
		contador: cfg.Contador,
		logger:   cfg.Logger.With(loggingpkg.LogFields{"queue": cfg.Queue}),
		tracer:   tp.Tracer(tracerName),
		propagator: otelprop.NewCompositeTextMapPropagator(
			otelprop.TraceContext{},
			otelprop.Baggage{},
		),
	}, nil
}

// Routes returns the API router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/contador", a.handleContador)
	return r
}

// handleContador increments the counter and publishes the result. Callers
// that send traceparent/baggage headers have the queue hop joined to their
// trace.
func (a *API) handleContador(w http.ResponseWriter, r *http.Request) {
	ctx := a.propagator.Extract(r.Context(), otelprop.HeaderCarrier(r.Header))
	ctx, span := a.tracer.Start(ctx, "GET /contador",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	resultado := Resultado{
		ValorAtual: a.contador.Incrementar(),
		Producer:   a.producer,
		Kernel:     kernel(),
		Framework:  framework(),
		Mensagem:   a.mensagem,
	}
	span.SetAttributes(attribute.Int64("contagem.valor_atual", resultado.ValorAtual))

	logger := a.logger.With(loggingpkg.TraceFields(ctx, loggingpkg.LogFields{
		"request_id":  middleware.GetReqID(r.Context()),
		"valor_atual": resultado.ValorAtual,
	}))

	sent, err := a.sender.Send(ctx, a.queue, resultado)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		logger.Error("Failed to send counter result", err, nil)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to send counter result"})
		return
	}

	logger.Info("Counter result sent", loggingpkg.LogFields{"message_id": sent.MessageID})
	a.writeJSON(w, http.StatusOK, resultado)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := sonic.Marshal(body)
	if err != nil {
		a.logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
