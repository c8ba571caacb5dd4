// Package codec turns typed payloads into message bodies and back.
package codec

import (
	"bytes"

	"github.com/bytedance/sonic"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
)

// Codec converts payloads of type T to and from message bodies.
type Codec[T any] interface {
	Encode(payload T) ([]byte, error)
	Decode(data []byte) (T, error)
	Name() string
}

// ContentTypeJSON is stamped on messages produced by the JSON codec.
const ContentTypeJSON = "application/json"

var jsonConfig = sonic.ConfigStd

// JSON encodes payloads as a JSON object keyed by the Go field names of T
// (or their json tags). Map keys are sorted, so output is deterministic.
// Decoding matches field names case-insensitively.
type JSON[T any] struct{}

// NewJSON returns the JSON codec for T.
func NewJSON[T any]() JSON[T] {
	return JSON[T]{}
}

func (JSON[T]) Name() string { return "json" }

func (JSON[T]) Encode(payload T) ([]byte, error) {
	return jsonConfig.Marshal(payload)
}

// Decode returns a *errors.DecodeError when data is empty, malformed or the
// JSON literal null.
func (c JSON[T]) Decode(data []byte) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, &errspkg.DecodeError{Codec: c.Name(), Err: errspkg.ErrEmptyPayload}
	}
	if err := jsonConfig.Unmarshal(trimmed, &out); err != nil {
		var zero T
		return zero, &errspkg.DecodeError{Codec: c.Name(), Err: err}
	}
	return out, nil
}
