package handlers

// Property keys stamped on every message next to the trace context headers.
const (
	// MetadataKeyContentType identifies the codec used for the body.
	MetadataKeyContentType = "content_type"

	// MetadataKeyProducer names the process that published the message.
	MetadataKeyProducer = "tracedqueue_producer"

	// MetadataKeyEnqueuedAt records when the message was handed to the broker
	// (RFC 3339, UTC).
	MetadataKeyEnqueuedAt = "tracedqueue_enqueued_at"
)
