// Package transport is the sink layer behind p4flow's forwarders. Sink
// packages register a Builder under the name used by the pub_sub_system
// config key; transport/transports imports all of them.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is what a sink builder produces. Subscriber is only set by sinks
// that can be consumed in-process, such as the channel sink.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a sink from config. Builders must not block on the
// network longer than ctx allows.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the slice of the p4flow config that sinks read.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetJetStreamStream() string

	// HTTP
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// SQL archives
	GetSQLiteFile() string
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider lets a built publisher override the capabilities
// registered for its sink.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Archive is implemented by sinks that store forwarded messages and can
// count them per topic.
type Archive interface {
	Count(ctx context.Context, topic string) (int64, error)
}
