package transport

import (
	"errors"
	"sort"
)

// ErrNilCarrier is returned when writing into a carrier with no backing map.
var ErrNilCarrier = errors.New("tracedqueue: carrier has no backing map")

// Carrier is a flat property bag attached to a message. Reads are loosely
// typed because broker application properties may hold arbitrary values;
// writes are always strings.
type Carrier interface {
	Get(key string) (any, bool)
	Set(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	Keys() []string
}

// StringProperties is a string-keyed, string-valued property bag, the shape
// of Watermill metadata.
type StringProperties map[string]string

func (p StringProperties) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

func (p StringProperties) Set(key, value string) error {
	if p == nil {
		return ErrNilCarrier
	}
	p[key] = value
	return nil
}

func (p StringProperties) Delete(key string) error {
	delete(p, key)
	return nil
}

func (p StringProperties) Keys() []string {
	return sortedKeys(p)
}

// Clone returns an independent copy.
func (p StringProperties) Clone() StringProperties {
	out := make(StringProperties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// AnyProperties wraps loosely typed broker application properties.
type AnyProperties map[string]any

func (p AnyProperties) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

func (p AnyProperties) Set(key, value string) error {
	if p == nil {
		return ErrNilCarrier
	}
	p[key] = value
	return nil
}

func (p AnyProperties) Delete(key string) error {
	delete(p, key)
	return nil
}

func (p AnyProperties) Keys() []string {
	return sortedKeys(p)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
