package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
)

// Registry maps transport names to their connector builders and capabilities.
// Transport packages register themselves from init.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]ConnectorBuilder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]ConnectorBuilder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a connector builder. The name must match Config.GetTransport.
func (r *Registry) Register(name string, builder ConnectorBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a connector builder and its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder ConnectorBuilder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// RegisterPubSub registers a Watermill-backed transport. Every connection
// opened by the resulting connector builds a fresh publisher and subscriber.
func (r *Registry) RegisterPubSub(name string, build PubSubBuilder, caps Capabilities) {
	r.RegisterWithCapabilities(name, func(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Connector, error) {
		return NewPubSubConnector(build, cfg, logger, caps), nil
	}, caps)
}

// GetCapabilities returns the capabilities of a registered transport, or a
// zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates a connector for cfg.GetTransport().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connector, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetTransport()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a transport is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a connector builder to the default registry.
func Register(name string, builder ConnectorBuilder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a connector builder and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, builder ConnectorBuilder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// RegisterPubSub adds a Watermill-backed transport to the default registry.
func RegisterPubSub(name string, build PubSubBuilder, caps Capabilities) {
	DefaultRegistry.RegisterPubSub(name, build, caps)
}

// Build creates a connector using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connector, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
