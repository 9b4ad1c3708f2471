// Package p4flow routes the P4Runtime stream channel of a switch to
// independent per-kind consumers and decodes digest data into Go values.
//
// A Router reads envelopes from a single Source, classifies each one as an
// arbitration update, packet-in, digest list, idle-timeout notification or
// stream error, and fans it out to every Subscription of that kind. Each
// subscription owns a bounded buffer; a slow consumer loses envelopes
// according to the configured OverflowPolicy and never stalls the router or
// other consumers. Subscriber facades such as Digests and Packets add a typed
// AwaitNext with a timeout on top.
//
// DecodeValue, DecodeBatch and DecodeDigest turn TypedValue trees into
// structs, fixed-width integers, byte slices, arrays, big.Int and netip.Addr
// by position. Types that need special handling implement Unmarshaler.
//
// # Service
//
// Service wraps a Router for applications that also want to export stream
// traffic. Config.ForwardKinds selects the kinds whose envelopes are
// published, in order, to a Watermill sink chosen by Config.PubSubSystem:
//   - channel: in-process Go channels, consumable through SubscribeForwarded
//   - io: JSON lines written to a file
//   - kafka: partitioned by stream kind
//   - rabbitmq: durable AMQP queues
//   - nats and nats-jetstream
//   - http: POST to a collector
//   - sqlite and postgres: queryable archives
//   - aws: SNS topics, with LocalStack support
//
// The forward chain adds correlation IDs, debug logging, OpenTelemetry spans,
// Prometheus metrics, retries with exponential backoff and panic recovery.
// Envelopes that still fail are logged, counted and reported through
// ForwardHooks.OnForwardError, then dropped so the stream keeps moving.
// Custom middleware can be added via ServiceDependencies.Middlewares.
//
//	svc := p4flow.NewService(cfg, logger, ctx, p4flow.ServiceDependencies{})
//	digests := p4flow.Digests(svc.Router())
//	go func() { _ = svc.Start(ctx, p4flow.NewSource(streamClient, cancel)) }()
//	records, err := p4flow.NextDigest[LearnRecord](digests, time.Second)
package p4flow
