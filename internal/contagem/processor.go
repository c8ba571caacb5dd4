package contagem

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	handlerpkg "github.com/drblury/tracedqueue/internal/runtime/handlers"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/storage"
)

// Store persists processed results. *storage.Repository implements it.
type Store interface {
	Save(ctx context.Context, reg storage.Registro) error
}

// Processor stores every received Resultado under the consumer name.
type Processor struct {
	store    Store
	consumer string
	now      func() time.Time
}

var _ handlerpkg.Handler[Resultado] = (*Processor)(nil)

// NewProcessor returns a processing handler writing to store.
func NewProcessor(store Store, consumer string) *Processor {
	return &Processor{store: store, consumer: consumer, now: time.Now}
}

// Handle saves the payload. Storage failures are returned to the worker,
// which logs them and completes the message.
func (p *Processor) Handle(ctx context.Context, msg handlerpkg.MessageContext[Resultado]) error {
	reg := storage.Registro{
		ValorAtual:   msg.Payload.ValorAtual,
		Producer:     msg.Payload.Producer,
		Consumer:     p.consumer,
		Kernel:       msg.Payload.Kernel,
		Framework:    msg.Payload.Framework,
		Mensagem:     msg.Payload.Mensagem,
		RegistradoEm: p.now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		reg.TraceID = sc.TraceID().String()
	}

	if err := p.store.Save(ctx, reg); err != nil {
		return fmt.Errorf("save counter result %d: %w", reg.ValorAtual, err)
	}
	if msg.Logger != nil {
		msg.Logger.Info("Counter result stored", loggingpkg.LogFields{"valor_atual": reg.ValorAtual})
	}
	return nil
}
