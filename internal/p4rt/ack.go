package p4rt

import (
	"fmt"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/stream"
)

// Sender is the send half of p4v1.P4Runtime_StreamChannelClient. gRPC
// streams allow one concurrent Send; callers sharing a stream serialise.
type Sender interface {
	Send(*p4v1.StreamMessageRequest) error
}

// DigestAck builds the stream request acknowledging d.
func DigestAck(d *stream.DigestList) *p4v1.StreamMessageRequest {
	return &p4v1.StreamMessageRequest{Update: &p4v1.StreamMessageRequest_DigestAck{
		DigestAck: &p4v1.DigestListAck{DigestId: d.DigestID, ListId: d.ListID},
	}}
}

// AckDigest acknowledges d on the stream. The server holds back further lists
// for the same digest until the previous one is acked.
func AckDigest(s Sender, d *stream.DigestList) error {
	if s == nil {
		return errspkg.ErrSenderRequired
	}
	if d == nil {
		return errspkg.ErrDigestRequired
	}
	if err := s.Send(DigestAck(d)); err != nil {
		return fmt.Errorf("ack digest %d list %d: %w", d.DigestID, d.ListID, err)
	}
	return nil
}
