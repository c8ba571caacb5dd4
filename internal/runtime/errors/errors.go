package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired    = sterrors.New("tracedqueue: configuration is required")
	ErrLoggerRequired    = sterrors.New("tracedqueue: logger is required")
	ErrConnectorRequired = sterrors.New("tracedqueue: connector is required")
	ErrHandlerRequired   = sterrors.New("tracedqueue: processing handler is required")
	ErrQueueNameRequired = sterrors.New("tracedqueue: queue name is required")
	ErrEmptyPayload      = sterrors.New("tracedqueue: message body carries no payload")
	ErrWorkerRunning     = sterrors.New("tracedqueue: worker is already running")
	ErrWorkerNotRunning  = sterrors.New("tracedqueue: worker is not running")
	ErrTransportClosed   = sterrors.New("tracedqueue: transport is closed")

	// ErrMessageTooLarge is terminal for a publish call: the message does not fit
	// into an empty batch and is never published.
	ErrMessageTooLarge = sterrors.New("tracedqueue: message too large for batch")
)

// ConfigValidationError wraps every problem found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "tracedqueue: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// PublishError reports a broker or network failure while publishing to a queue.
// It is always surfaced to the caller of Send; nothing retries it internally.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("tracedqueue: publish to queue %q failed: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DecodeError means the message body could not be turned into a usable payload.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tracedqueue: %s decode failed: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProcessingError wraps a failure (or recovered panic) of a processing handler.
type ProcessingError struct {
	Err   error
	Panic any
}

func (e *ProcessingError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("tracedqueue: processing handler panicked: %v", e.Panic)
	}
	return fmt.Sprintf("tracedqueue: processing handler failed: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// PropagationError reports a single property key that could not be written
// (Op "inject") or read (Op "extract") while carrying causal context.
type PropagationError struct {
	Op  string
	Key string
	Err error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("tracedqueue: trace context %s failed for key %q: %v", e.Op, e.Key, e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }
