package tracedqueue

import (
	"context"

	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	codecpkg "github.com/drblury/tracedqueue/internal/runtime/codec"
	configpkg "github.com/drblury/tracedqueue/internal/runtime/config"
	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	handlerpkg "github.com/drblury/tracedqueue/internal/runtime/handlers"
	idspkg "github.com/drblury/tracedqueue/internal/runtime/ids"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/runtime/propagation"
	"github.com/drblury/tracedqueue/transport"
)

type (
	Config       = configpkg.Config
	Dependencies = runtimepkg.Dependencies
	Service      = runtimepkg.Service

	Sender[T any]       = runtimepkg.Sender[T]
	SendResult          = runtimepkg.SendResult
	Worker[T any]       = runtimepkg.Worker[T]
	WorkerConfig[T any] = runtimepkg.WorkerConfig[T]
	Outcome             = runtimepkg.Outcome

	Handler[T any]        = handlerpkg.Handler[T]
	HandlerFunc[T any]    = handlerpkg.HandlerFunc[T]
	MessageContext[T any] = handlerpkg.MessageContext[T]
	Codec[T any]          = codecpkg.Codec[T]

	CausalContext = propagation.CausalContext

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Queue statistics
	QueueMetrics         = runtimepkg.QueueMetrics
	QueueStats           = runtimepkg.QueueStats
	QueueMetricsSnapshot = runtimepkg.QueueMetricsSnapshot

	ConfigValidationError = errspkg.ConfigValidationError
	PublishError          = errspkg.PublishError
	DecodeError           = errspkg.DecodeError
	ProcessingError       = errspkg.ProcessingError
	PropagationError      = errspkg.PropagationError

	// Transport boundary
	Connector         = transport.Connector
	TransportConfig   = transport.Config
	TransportRegistry = transport.Registry
	Capabilities      = transport.Capabilities
	Carrier           = transport.Carrier
	QueueIntrospector = transport.QueueIntrospector
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewQueueMetrics = runtimepkg.NewQueueMetrics
	StatsHandler    = runtimepkg.StatsHandler

	// Causal context carried across the queue.
	CausalContextFrom = propagation.FromContext

	// Transport registry. Import transports via
	// _ "github.com/drblury/tracedqueue/transport/transports".
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrConnectorRequired = errspkg.ErrConnectorRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrQueueNameRequired = errspkg.ErrQueueNameRequired
	ErrEmptyPayload      = errspkg.ErrEmptyPayload
	ErrMessageTooLarge   = errspkg.ErrMessageTooLarge
	ErrWorkerRunning     = errspkg.ErrWorkerRunning
	ErrWorkerNotRunning  = errspkg.ErrWorkerNotRunning
	ErrTransportClosed   = errspkg.ErrTransportClosed

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMessageID = idspkg.NewMessageID
)

const (
	OutcomeProcessed        = runtimepkg.OutcomeProcessed
	OutcomeDecodeFailed     = runtimepkg.OutcomeDecodeFailed
	OutcomeProcessingFailed = runtimepkg.OutcomeProcessingFailed
)

// Property keys stamped on every message.
const (
	PropertyTraceParent = propagation.KeyTraceParent
	PropertyTraceState  = propagation.KeyTraceState
	PropertyBaggage     = propagation.KeyBaggage
	PropertyContentType = handlerpkg.MetadataKeyContentType
	PropertyProducer    = handlerpkg.MetadataKeyProducer
	PropertyEnqueuedAt  = handlerpkg.MetadataKeyEnqueuedAt
)

// BuildTransport creates the connector named by cfg.Transport from the
// default registry.
func BuildTransport(ctx context.Context, cfg *Config, logger ServiceLogger) (Connector, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if logger == nil {
		logger = NewNopServiceLogger()
	}
	return transport.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(logger))
}

// TransportCapabilities reports what the registered transport name supports.
func TransportCapabilities(name string) Capabilities {
	return transport.DefaultRegistry.GetCapabilities(name)
}

func NewSender[T any](connector Connector, logger ServiceLogger, deps Dependencies) (*Sender[T], error) {
	return runtimepkg.NewSender[T](connector, logger, deps)
}

func NewSenderWithCodec[T any](connector Connector, codec Codec[T], logger ServiceLogger, deps Dependencies) (*Sender[T], error) {
	return runtimepkg.NewSenderWithCodec(connector, codec, logger, deps)
}

func NewWorker[T any](cfg WorkerConfig[T]) (*Worker[T], error) {
	return runtimepkg.NewWorker(cfg)
}

func NewJSONCodec[T any]() Codec[T] {
	return codecpkg.NewJSON[T]()
}
