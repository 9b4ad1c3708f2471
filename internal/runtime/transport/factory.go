// Package transport builds the sink a Service forwards to.
package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/p4flow/internal/runtime/config"
	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	sinks "github.com/drblury/p4flow/transport"

	_ "github.com/drblury/p4flow/transport/transports"
)

// Sink is a built publisher together with what it can do.
type Sink struct {
	Name         string
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities sinks.Capabilities
}

// Archive returns the sink's archive view, if it keeps messages.
func (s Sink) Archive() (sinks.Archive, bool) {
	a, ok := s.Publisher.(sinks.Archive)
	return a, ok
}

// Factory abstracts how p4flow initialises its sink.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the sink registry.
func DefaultFactory() Factory {
	return registryFactory{registry: sinks.DefaultRegistry}
}

// RegistryFactory builds sinks from registry.
func RegistryFactory(registry *sinks.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *sinks.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error) {
	if conf == nil {
		return Sink{}, errspkg.ErrConfigRequired
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Sink{}, err
	}

	name := SinkName(conf.PubSubSystem)
	return Sink{
		Name:         name,
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: capabilities(f.registry, name, t.Publisher),
	}, nil
}

// SinkName normalises a configured sink name.
func SinkName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return sinks.DefaultName
	}
	return name
}

func capabilities(registry *sinks.Registry, name string, pub message.Publisher) sinks.Capabilities {
	if p, ok := pub.(sinks.CapabilitiesProvider); ok {
		return p.Capabilities()
	}
	return registry.GetCapabilities(name)
}
