// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/tracedqueue/transport/aws"
	_ "github.com/drblury/tracedqueue/transport/channel"
	_ "github.com/drblury/tracedqueue/transport/http"
	_ "github.com/drblury/tracedqueue/transport/kafka"
	_ "github.com/drblury/tracedqueue/transport/nats"
	_ "github.com/drblury/tracedqueue/transport/rabbitmq"
	_ "github.com/drblury/tracedqueue/transport/servicebus"
	_ "github.com/drblury/tracedqueue/transport/sqlite"
)
