package runtime

// Outcome is the terminal state of handling one delivery. Every outcome is
// settled by completing the message.
type Outcome int

const (
	// OutcomeProcessed means the payload decoded and the handler succeeded.
	OutcomeProcessed Outcome = iota
	// OutcomeDecodeFailed means the body held no usable payload; the handler
	// was not invoked.
	OutcomeDecodeFailed
	// OutcomeProcessingFailed means the handler returned an error or panicked.
	OutcomeProcessingFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeProcessingFailed:
		return "processing_failed"
	default:
		return "unknown"
	}
}
