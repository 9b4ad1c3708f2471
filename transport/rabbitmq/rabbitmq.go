// Package rabbitmq provides a RabbitMQ/AMQP sink for p4flow. Each topic maps
// to a durable fanout exchange; publishings are persistent JSON carrying the
// stream kind as the AMQP type.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/p4flow/transport"
)

const (
	TransportName = "rabbitmq"

	// AppID is set on every publishing.
	AppID = "p4flow"

	kindHeader = "p4flow_kind"
)

// ErrURLRequired is returned when rabbitmq_url is empty.
var ErrURLRequired = errors.New("rabbitmq: URL is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build dials url once and shares the connection with the publisher. The
// connection is closed again if the publisher cannot be created.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(PublisherConfig(url), logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, conn.Close())
	}
	return transport.Transport{Publisher: publisher}, nil
}

// PublisherConfig returns durable fanout settings for url with the p4flow
// marshaler installed.
func PublisherConfig(url string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)
	cfg.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: decoratePublishing}
	return cfg
}

// decoratePublishing stamps the application id, content type and stream kind.
func decoratePublishing(p amqp091.Publishing) amqp091.Publishing {
	p.AppId = AppID
	p.ContentType = "application/json"
	if kind, ok := p.Headers[kindHeader].(string); ok {
		p.Type = kind
	}
	return p
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
