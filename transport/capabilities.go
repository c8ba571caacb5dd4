package transport

// Capabilities describes what a transport backend supports.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// System is the messaging.system value reported on spans when it differs
	// from Name.
	System string

	// SupportsAck indicates settled messages are removed from the queue.
	SupportsAck bool

	// SupportsDurability indicates messages survive a process restart.
	SupportsDurability bool

	// SupportsConcurrentDelivery indicates the processor honours
	// ProcessorOptions.MaxConcurrentCalls above one.
	SupportsConcurrentDelivery bool

	// SupportsOrdering indicates the transport preserves publish order.
	// Workers never rely on it.
	SupportsOrdering bool

	// MaxMessageSize is the batch budget in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// BatchBudget resolves the effective batch size budget. A positive override
// wins over the transport default.
func (c Capabilities) BatchBudget(override int64) int64 {
	if override > 0 {
		return override
	}
	return c.MaxMessageSize
}

// MessagingSystem returns System, falling back to Name.
func (c Capabilities) MessagingSystem() string {
	if c.System != "" {
		return c.System
	}
	return c.Name
}

// SupportsReliableDelivery reports at-least-once semantics: acknowledgement
// on a durable queue.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsDurability
}

// Predefined capability sets for the built-in transports.
var (
	ServiceBusCapabilities = Capabilities{
		Name:                       "servicebus",
		System:                     "AzureServiceBus",
		SupportsAck:                true,
		SupportsDurability:         true,
		SupportsConcurrentDelivery: true,
		MaxMessageSize:             262144, // standard tier, 256KB
	}

	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsOrdering: true,
	}

	SQLiteCapabilities = Capabilities{
		Name:               "sqlite",
		SupportsAck:        true,
		SupportsDurability: true,
		SupportsOrdering:   true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsAck:        true,
		SupportsDurability: true,
		SupportsOrdering:   true,
		MaxMessageSize:     134217728, // 128MB broker default
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsAck:        true,
		SupportsDurability: true,
		SupportsOrdering:   true,
		MaxMessageSize:     1048576, // 1MB
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // 1MB
	}

	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsAck:        true,
		SupportsDurability: true,
		MaxMessageSize:     262144, // 256KB
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
