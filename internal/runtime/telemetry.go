package runtime

import (
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/drblury/tracedqueue"

// Span attribute keys emitted on every send and receive span.
const (
	AttrMessagingSystem = attribute.Key("messaging.system")
	AttrDestinationKind = attribute.Key("messaging.destination_kind")
	AttrDestination     = attribute.Key("messaging.destination")
	AttrMessageID       = attribute.Key("messaging.message_id")
	AttrMessage         = attribute.Key("message")
)

const destinationKindQueue = "queue"

// maxBodyAttributeLen bounds the rendered payload attached to spans.
const maxBodyAttributeLen = 4096

func messagingAttributes(system, queue, messageID string, body []byte) []attribute.KeyValue {
	rendered := string(body)
	if len(rendered) > maxBodyAttributeLen {
		cut := maxBodyAttributeLen
		for cut > 0 && !utf8.RuneStart(rendered[cut]) {
			cut--
		}
		rendered = rendered[:cut] + "..."
	}
	return []attribute.KeyValue{
		AttrMessagingSystem.String(system),
		AttrDestinationKind.String(destinationKindQueue),
		AttrDestination.String(queue),
		AttrMessageID.String(messageID),
		AttrMessage.String(rendered),
	}
}

func spanName(queue, op string) string {
	return queue + " " + op
}
