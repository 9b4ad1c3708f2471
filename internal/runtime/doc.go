/*
Package runtime wires the P4Runtime stream router to an external sink.

# Architecture Overview

A Service owns one stream.Router that reads a single StreamChannel source and
fans envelopes out per kind. Application code subscribes directly through
Service.Subscribe or the typed facades in the stream package. Kinds listed in
Config.ForwardKinds are additionally exported to the configured sink through
a Watermill router.

# Forwarding

Each forwarded kind gets its own subscription and forwarder goroutine. The
forwarder encodes envelopes as JSON (see EnvelopeMessage) and publishes them
to an internal gochannel bridge that blocks until the handler acked, so the
sink sees every kind in stream order. Overload is absorbed by the
subscription buffer and its overflow policy, never by the stream router.

The handler chain, outermost first:
  - ForwardOutcome: records the result and acks failed messages after hooks ran
  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of message metadata
  - Tracer: OpenTelemetry producer span
  - Metrics: Watermill Prometheus handler and publisher metrics
  - Retry: exponential backoff from the retry settings of Config
  - Recoverer: panic recovery

ForwardHooks and custom MiddlewareRegistration values are appended after the
defaults.

# Observability

RouterMetrics implements stream.Observer and records published, delivered,
dropped and ignored envelopes plus forward results. With MetricsEnabled the
registry is served on /metrics. With WebUIEnabled the status API serves
/api/kinds (router statistics) and /api/sink (sink capabilities and, for
archive sinks, stored counts per topic).

# Sub-packages

  - config/: service configuration, TOML loading and validation
  - decode/: structural decoder from TypedValue into Go values
  - errors/: sentinel errors
  - ids/: ULID generation for envelope and correlation IDs
  - jsoncodec/: JSON marshaling backed by sonic
  - logging/: logger interface and adapters
  - metadata/: message metadata keys for forwarded envelopes
  - stream/: stream router, hubs and subscriptions
  - transport/: sink factory over the public transport registry
  - value/: the TypedValue model

# Usage Example

	cfg := &p4flow.Config{
		PubSubSystem:   "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		ForwardKinds:   []string{"digest", "packet"},
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := p4flow.NewService(cfg, logger, ctx, p4flow.ServiceDependencies{})
	digests := p4flow.Digests(svc.Router())

	go svc.Start(ctx, p4flow.NewSource(streamClient, cancel))
*/
package runtime
