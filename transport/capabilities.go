package transport

// Capabilities describes what a sink offers to forwarded envelopes.
type Capabilities struct {
	// Name is the human-readable name of the sink.
	Name string `json:"name"`

	// SupportsOrdering indicates the sink keeps per-topic publish order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsPartitioning indicates messages are keyed, e.g. by stream kind.
	SupportsPartitioning bool `json:"supports_partitioning"`

	// SupportsTracing indicates the sink carries metadata headers natively.
	SupportsTracing bool `json:"supports_tracing"`

	// SupportsSubscribe indicates Transport.Subscriber is set so forwarded
	// messages can be consumed in-process.
	SupportsSubscribe bool `json:"supports_subscribe"`

	// Durable indicates messages survive a restart of the process.
	Durable bool `json:"durable"`

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64 `json:"max_message_size,omitempty"`
}

// Accepts reports whether a payload of n bytes fits the sink.
func (c Capabilities) Accepts(n int) bool {
	return c.MaxMessageSize <= 0 || int64(n) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in sinks.
var (
	// ChannelCapabilities for the in-memory Go channel sink.
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		SupportsOrdering:  true,
		SupportsSubscribe: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsTracing:      true,
		Durable:              true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for SNS topics.
	AWSCapabilities = Capabilities{
		Name:            "aws",
		SupportsTracing: true,
		Durable:         true,
		MaxMessageSize:  262144, // 256KB
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsOrdering: true,
		Durable:          true,
	}

	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsOrdering: true,
		Durable:          true,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for the JSON lines file sink.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Durable:          true,
	}
)

// GetCapabilities returns the capabilities for a sink by name.
// Returns a zero Capabilities struct if the sink is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
