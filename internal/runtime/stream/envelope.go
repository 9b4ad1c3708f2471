package stream

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/value"
)

// Kind classifies an inbound stream message.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindArbitration
	KindPacket
	KindDigest
	KindIdleTimeout
	KindError
)

// Kinds lists every routable kind in a stable order.
var Kinds = []Kind{KindArbitration, KindPacket, KindDigest, KindIdleTimeout, KindError}

func (k Kind) String() string {
	switch k {
	case KindArbitration:
		return "arbitration"
	case KindPacket:
		return "packet"
	case KindDigest:
		return "digest"
	case KindIdleTimeout:
		return "idle_timeout"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a kind name (as produced by String) back to a Kind.
func ParseKind(name string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, k := range Kinds {
		if k.String() == normalized {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", errspkg.ErrUnknownKind, name)
}

type Uint128 struct {
	High uint64 `json:"high"`
	Low  uint64 `json:"low"`
}

type Status struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// ArbitrationUpdate reports the outcome of a controller election.
type ArbitrationUpdate struct {
	DeviceID   uint64  `json:"device_id"`
	Role       string  `json:"role,omitempty"`
	ElectionID Uint128 `json:"election_id"`
	Status     *Status `json:"status,omitempty"`
}

type PacketMetadata struct {
	ID    uint32 `json:"id"`
	Value []byte `json:"value"`
}

// PacketIn is a data-plane packet punted to the controller.
type PacketIn struct {
	Payload  []byte           `json:"payload"`
	Metadata []PacketMetadata `json:"metadata,omitempty"`
}

// DigestList carries a batch of digest data produced by the pipeline. Each
// element of Data is decoded independently.
type DigestList struct {
	DigestID  uint32              `json:"digest_id"`
	ListID    uint64              `json:"list_id"`
	Data      []*value.TypedValue `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

// IdleTimeoutNotification lists table entries that aged out. Entries are kept
// in their protobuf encoding.
type IdleTimeoutNotification struct {
	TableEntries [][]byte `json:"table_entries"`
	Timestamp    int64    `json:"timestamp"`
}

// StreamError is the server's report of a failed stream request.
type StreamError struct {
	CanonicalCode int32  `json:"canonical_code"`
	Message       string `json:"message,omitempty"`
	Space         string `json:"space,omitempty"`
	Code          int32  `json:"code,omitempty"`
}

// Envelope is one inbound stream message. Exactly one payload is populated
// for a routable message. Other describes a message variant the router does
// not know about.
type Envelope struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`

	Arbitration *ArbitrationUpdate       `json:"arbitration,omitempty"`
	Packet      *PacketIn                `json:"packet,omitempty"`
	Digest      *DigestList              `json:"digest,omitempty"`
	IdleTimeout *IdleTimeoutNotification `json:"idle_timeout,omitempty"`
	Error       *StreamError             `json:"error,omitempty"`
	Other       string                   `json:"other,omitempty"`
}

// Kind derives the kind from the populated payload. Zero or several payloads
// yield KindUnknown.
func (e *Envelope) Kind() Kind {
	if e == nil {
		return KindUnknown
	}
	kind, n := KindUnknown, 0
	if e.Arbitration != nil {
		kind, n = KindArbitration, n+1
	}
	if e.Packet != nil {
		kind, n = KindPacket, n+1
	}
	if e.Digest != nil {
		kind, n = KindDigest, n+1
	}
	if e.IdleTimeout != nil {
		kind, n = KindIdleTimeout, n+1
	}
	if e.Error != nil {
		kind, n = KindError, n+1
	}
	if n != 1 {
		return KindUnknown
	}
	return kind
}

// Describe names the envelope for logs.
func (e *Envelope) Describe() string {
	if e == nil {
		return "nil envelope"
	}
	if k := e.Kind(); k != KindUnknown {
		return k.String()
	}
	if e.Other != "" {
		return e.Other
	}
	return "empty envelope"
}

// Clone returns a deep copy. TypedValues are immutable and shared.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	if e.Arbitration != nil {
		a := *e.Arbitration
		if a.Status != nil {
			s := *a.Status
			a.Status = &s
		}
		out.Arbitration = &a
	}
	if e.Packet != nil {
		p := PacketIn{Payload: bytes.Clone(e.Packet.Payload)}
		if e.Packet.Metadata != nil {
			p.Metadata = make([]PacketMetadata, len(e.Packet.Metadata))
			for i, md := range e.Packet.Metadata {
				p.Metadata[i] = PacketMetadata{ID: md.ID, Value: bytes.Clone(md.Value)}
			}
		}
		out.Packet = &p
	}
	if e.Digest != nil {
		d := *e.Digest
		d.Data = slices.Clone(e.Digest.Data)
		out.Digest = &d
	}
	if e.IdleTimeout != nil {
		n := *e.IdleTimeout
		if e.IdleTimeout.TableEntries != nil {
			n.TableEntries = make([][]byte, len(e.IdleTimeout.TableEntries))
			for i, entry := range e.IdleTimeout.TableEntries {
				n.TableEntries[i] = bytes.Clone(entry)
			}
		}
		out.IdleTimeout = &n
	}
	if e.Error != nil {
		se := *e.Error
		out.Error = &se
	}
	return &out
}
