package metadata

import (
	"fmt"
	"strconv"
	"time"

	"github.com/drblury/p4flow/internal/runtime/stream"
)

// Metadata key constants attached to every forwarded envelope.
// These keys are reserved and should not be used for custom metadata.
const (
	// KeyCorrelationID tracks related messages across services. Forwarded
	// envelopes use their envelope ID.
	KeyCorrelationID = "correlation_id"

	KeyKind       = "p4flow_kind"
	KeySeq        = "p4flow_seq"
	KeyReceivedAt = "p4flow_received_at"
	// KeyTopic carries the destination topic through the forwarding chain.
	KeyTopic = "p4flow_topic"
)

// ForEnvelope builds the metadata of a forwarded envelope.
func ForEnvelope(env *stream.Envelope, topic string) Metadata {
	md := New(
		KeyKind, env.Kind().String(),
		KeySeq, strconv.FormatUint(env.Seq, 10),
		KeyTopic, topic,
	)
	if env.ID != "" {
		md[KeyCorrelationID] = env.ID
	}
	if !env.ReceivedAt.IsZero() {
		md[KeyReceivedAt] = env.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return md
}

// Kind parses the stream kind recorded under KeyKind.
func (m Metadata) Kind() (stream.Kind, error) {
	return stream.ParseKind(m[KeyKind])
}

// Seq parses the router sequence number recorded under KeySeq.
func (m Metadata) Seq() (uint64, error) {
	raw, ok := m[KeySeq]
	if !ok {
		return 0, fmt.Errorf("metadata: %s not set", KeySeq)
	}
	return strconv.ParseUint(raw, 10, 64)
}
