package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// DefaultName is the sink used when the config leaves PubSubSystem empty.
const DefaultName = "channel"

var (
	ErrNilConfig    = errors.New("sink config is required")
	ErrUnknownSink  = errors.New("unknown sink")
	ErrNoPublisher  = errors.New("sink built no publisher")
	ErrUnknownAlias = errors.New("alias target is not registered")
)

type entry struct {
	build Builder
	caps  Capabilities
}

// Registry maps sink names, as written in the pub_sub_system config key, to
// their builders. Names are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry holds every sink imported through transport/transports.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a sink without declared capabilities. A later call for the
// same name replaces it.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: normalize(name)})
}

func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(name)] = entry{build: builder, caps: caps}
}

// Alias makes alias build the same sink as target.
func (r *Registry) Alias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[normalize(target)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlias, target)
	}
	r.entries[normalize(alias)] = e
	return nil
}

// GetCapabilities returns what the named sink declared. Unknown sinks get a
// zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[normalize(name)]; ok {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build runs the builder selected by cfg.GetPubSubSystem, falling back to
// DefaultName when it is empty.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, ErrNilConfig
	}

	name := normalize(cfg.GetPubSubSystem())
	if name == "" {
		name = DefaultName
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w %q (registered: %s)", ErrUnknownSink, name, strings.Join(r.Names(), ", "))
	}

	t, err := e.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s sink: %w", name, err)
	}
	if t.Publisher == nil {
		return Transport{}, fmt.Errorf("build %s sink: %w", name, ErrNoPublisher)
	}
	return t, nil
}

// Names returns the registered sink names and aliases, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(name)]
	return ok
}

func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Alias registers alias on the default registry.
func Alias(alias, target string) error {
	return DefaultRegistry.Alias(alias, target)
}

// Build builds the configured sink from the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
