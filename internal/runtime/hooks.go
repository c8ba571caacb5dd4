package runtime

import (
	"context"
	"fmt"
	"time"

	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/transport"
)

// JobContext describes one delivery to the worker hooks.
type JobContext struct {
	// Queue the message was received from.
	Queue string
	// MessageID is the broker message identifier.
	MessageID string
	// Properties are the message application properties.
	Properties transport.Carrier
	// Context carries the reconstructed trace context and baggage.
	Context context.Context
	// StartedAt is when the worker received the delivery.
	StartedAt time.Time
	// Duration is set for OnJobDone and OnJobError.
	Duration time.Duration
	// Outcome is set for OnJobDone and OnJobError.
	Outcome Outcome
}

// JobHooks are optional callbacks around each delivery. A panicking hook is
// logged and does not prevent the message from being completed.
type JobHooks struct {
	// OnJobStart runs after the trace context is restored and before
	// decoding.
	OnJobStart func(job JobContext)
	// OnJobDone runs when the handler succeeded.
	OnJobDone func(job JobContext)
	// OnJobError runs when decoding or the handler failed.
	OnJobError func(job JobContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainJobHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainJobHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainJobHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(job JobContext) {
		a(job)
		b(job)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(job JobContext, err error) {
		a(job, err)
		b(job, err)
	}
}

// LoggingHooks logs the lifecycle of every delivery at debug level and
// failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(job JobContext) {
			logger.Debug("Job started", loggingpkg.TraceFields(job.Context, loggingpkg.LogFields{
				"queue":      job.Queue,
				"message_id": job.MessageID,
			}))
		},
		OnJobDone: func(job JobContext) {
			logger.Debug("Job completed", loggingpkg.TraceFields(job.Context, loggingpkg.LogFields{
				"queue":       job.Queue,
				"message_id":  job.MessageID,
				"duration_ms": job.Duration.Milliseconds(),
			}))
		},
		OnJobError: func(job JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.TraceFields(job.Context, loggingpkg.LogFields{
				"queue":       job.Queue,
				"message_id":  job.MessageID,
				"outcome":     job.Outcome.String(),
				"duration_ms": job.Duration.Milliseconds(),
			}))
		},
	}
}

// AlertingHooks calls alert for every failed delivery.
func AlertingHooks(alert func(job JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alert}
}

// runHook isolates a hook so its panic cannot escape the delivery pipeline.
func runHook(logger loggingpkg.ServiceLogger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker hook panicked", fmt.Errorf("%s: %v", name, r), nil)
		}
	}()
	fn()
}
