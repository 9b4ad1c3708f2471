// Package http provides an HTTP webhook sink for p4flow. Each message is
// POSTed to the configured base URL joined with its topic.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/p4flow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP sink to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := cfg.GetHTTPPublisherURL()
	if base == "" {
		return transport.Transport{}, errors.New("http: publisher URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(PublisherConfig(base), logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: publisher}, nil
}

// PublisherConfig returns a publisher config that targets base joined with
// the message topic.
func PublisherConfig(base string) http.PublisherConfig {
	return http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			target, err := url.JoinPath(base, topic)
			if err != nil {
				return nil, err
			}
			return http.DefaultMarshalMessageFunc(target, msg)
		},
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
