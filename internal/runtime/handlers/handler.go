// Package handlers defines the processing handler boundary invoked by workers
// for each decoded payload.
package handlers

import (
	"context"
	"fmt"
	"runtime/debug"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/transport"
)

// MessageContext exposes a decoded payload together with the delivery it came
// from.
type MessageContext[T any] struct {
	Payload    T
	MessageID  string
	Queue      string
	Properties transport.Carrier
	Logger     loggingpkg.ServiceLogger
}

// Get returns a property value rendered as a string, or "" when absent.
func (c MessageContext[T]) Get(key string) string {
	if c.Properties == nil {
		return ""
	}
	v, ok := c.Properties.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Handler processes one decoded payload. A returned error is logged by the
// worker; the message is acknowledged either way.
type Handler[T any] interface {
	Handle(ctx context.Context, msg MessageContext[T]) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, msg MessageContext[T]) error

func (f HandlerFunc[T]) Handle(ctx context.Context, msg MessageContext[T]) error {
	return f(ctx, msg)
}

// Invoke runs h and converts both returned errors and panics into a
// *errors.ProcessingError. It returns nil on success.
func Invoke[T any](ctx context.Context, h Handler[T], msg MessageContext[T]) (err error) {
	if h == nil {
		return &errspkg.ProcessingError{Err: errspkg.ErrHandlerRequired}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.ProcessingError{
				Err:   fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				Panic: r,
			}
		}
	}()
	if herr := h.Handle(ctx, msg); herr != nil {
		return &errspkg.ProcessingError{Err: herr}
	}
	return nil
}
