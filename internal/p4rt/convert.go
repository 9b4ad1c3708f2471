// Package p4rt adapts P4Runtime protobuf messages to the router's envelope
// model and P4Data to value.TypedValue.
package p4rt

import (
	"fmt"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/p4flow/internal/runtime/stream"
	"github.com/drblury/p4flow/internal/runtime/value"
)

var tableEntryMarshal = proto.MarshalOptions{Deterministic: true}

// FromP4Data converts a P4Data tree. Valid headers become records of their
// bitstrings and serialized enums become bitstrings. Invalid headers, header
// unions, header stacks and named enums or errors have no TypedValue variant
// and convert to unset.
func FromP4Data(d *p4v1.P4Data) *value.TypedValue {
	switch data := d.GetData().(type) {
	case *p4v1.P4Data_Bool:
		return value.Bool(data.Bool)
	case *p4v1.P4Data_Bitstring:
		return value.Bitstring(data.Bitstring)
	case *p4v1.P4Data_Varbit:
		return value.Varbit(data.Varbit.GetBitstring(), uint32(data.Varbit.GetBitwidth()))
	case *p4v1.P4Data_Struct:
		return value.Record(fromMembers(data.Struct.GetMembers())...)
	case *p4v1.P4Data_Tuple:
		return value.Tuple(fromMembers(data.Tuple.GetMembers())...)
	case *p4v1.P4Data_Header:
		if !data.Header.GetIsValid() {
			return value.Unset()
		}
		fields := make([]*value.TypedValue, len(data.Header.GetBitstrings()))
		for i, b := range data.Header.GetBitstrings() {
			fields[i] = value.Bitstring(b)
		}
		return value.Record(fields...)
	case *p4v1.P4Data_EnumValue:
		return value.Bitstring(data.EnumValue)
	default:
		return value.Unset()
	}
}

func fromMembers(members []*p4v1.P4Data) []*value.TypedValue {
	out := make([]*value.TypedValue, len(members))
	for i, m := range members {
		out[i] = FromP4Data(m)
	}
	return out
}

// ToP4Data is the inverse of FromP4Data for the variants TypedValue models.
// Records become structs.
func ToP4Data(v *value.TypedValue) *p4v1.P4Data {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		return &p4v1.P4Data{Data: &p4v1.P4Data_Bool{Bool: b}}
	case value.KindBitstring:
		bits, _ := v.Bits()
		return &p4v1.P4Data{Data: &p4v1.P4Data_Bitstring{Bitstring: bits}}
	case value.KindVarbit:
		bits, width, _ := v.VarBits()
		return &p4v1.P4Data{Data: &p4v1.P4Data_Varbit{Varbit: &p4v1.P4Varbit{Bitstring: bits, Bitwidth: int32(width)}}}
	case value.KindRecord:
		return &p4v1.P4Data{Data: &p4v1.P4Data_Struct{Struct: &p4v1.P4StructLike{Members: toMembers(v.Members())}}}
	case value.KindTuple:
		return &p4v1.P4Data{Data: &p4v1.P4Data_Tuple{Tuple: &p4v1.P4StructLike{Members: toMembers(v.Members())}}}
	default:
		return &p4v1.P4Data{}
	}
}

func toMembers(members []*value.TypedValue) []*p4v1.P4Data {
	out := make([]*p4v1.P4Data, len(members))
	for i, m := range members {
		out[i] = ToP4Data(m)
	}
	return out
}

// ToEnvelope classifies one stream response. Variants the router does not
// route come back with Other set to a description.
func ToEnvelope(msg *p4v1.StreamMessageResponse) (*stream.Envelope, error) {
	switch u := msg.GetUpdate().(type) {
	case *p4v1.StreamMessageResponse_Arbitration:
		return &stream.Envelope{Arbitration: arbitration(u.Arbitration)}, nil
	case *p4v1.StreamMessageResponse_Packet:
		return &stream.Envelope{Packet: packetIn(u.Packet)}, nil
	case *p4v1.StreamMessageResponse_Digest:
		return &stream.Envelope{Digest: digestList(u.Digest)}, nil
	case *p4v1.StreamMessageResponse_IdleTimeoutNotification:
		n, err := idleTimeout(u.IdleTimeoutNotification)
		if err != nil {
			return nil, err
		}
		return &stream.Envelope{IdleTimeout: n}, nil
	case *p4v1.StreamMessageResponse_Error:
		return &stream.Envelope{Error: streamError(u.Error)}, nil
	case *p4v1.StreamMessageResponse_Other:
		desc := u.Other.GetTypeUrl()
		if desc == "" {
			desc = "other"
		}
		return &stream.Envelope{Other: desc}, nil
	case nil:
		return &stream.Envelope{Other: "empty stream message"}, nil
	default:
		return &stream.Envelope{Other: fmt.Sprintf("%T", u)}, nil
	}
}

func arbitration(m *p4v1.MasterArbitrationUpdate) *stream.ArbitrationUpdate {
	out := &stream.ArbitrationUpdate{
		DeviceID: m.GetDeviceId(),
		Role:     m.GetRole().GetName(),
		ElectionID: stream.Uint128{
			High: m.GetElectionId().GetHigh(),
			Low:  m.GetElectionId().GetLow(),
		},
	}
	if st := m.GetStatus(); st != nil {
		out.Status = &stream.Status{Code: st.GetCode(), Message: st.GetMessage()}
	}
	return out
}

func packetIn(p *p4v1.PacketIn) *stream.PacketIn {
	out := &stream.PacketIn{Payload: p.GetPayload()}
	if md := p.GetMetadata(); len(md) > 0 {
		out.Metadata = make([]stream.PacketMetadata, len(md))
		for i, m := range md {
			out.Metadata[i] = stream.PacketMetadata{ID: m.GetMetadataId(), Value: m.GetValue()}
		}
	}
	return out
}

func digestList(d *p4v1.DigestList) *stream.DigestList {
	data := make([]*value.TypedValue, len(d.GetData()))
	for i, datum := range d.GetData() {
		data[i] = FromP4Data(datum)
	}
	return &stream.DigestList{
		DigestID:  d.GetDigestId(),
		ListID:    d.GetListId(),
		Data:      data,
		Timestamp: d.GetTimestamp(),
	}
}

func idleTimeout(n *p4v1.IdleTimeoutNotification) (*stream.IdleTimeoutNotification, error) {
	entries := make([][]byte, len(n.GetTableEntry()))
	for i, entry := range n.GetTableEntry() {
		raw, err := tableEntryMarshal.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("p4flow: encode idle timeout table entry %d: %w", i, err)
		}
		entries[i] = raw
	}
	return &stream.IdleTimeoutNotification{TableEntries: entries, Timestamp: n.GetTimestamp()}, nil
}

// TableEntries decodes the protobuf-encoded entries of an idle timeout
// notification.
func TableEntries(n *stream.IdleTimeoutNotification) ([]*p4v1.TableEntry, error) {
	out := make([]*p4v1.TableEntry, len(n.TableEntries))
	for i, raw := range n.TableEntries {
		entry := &p4v1.TableEntry{}
		if err := proto.Unmarshal(raw, entry); err != nil {
			return nil, fmt.Errorf("p4flow: decode idle timeout table entry %d: %w", i, err)
		}
		out[i] = entry
	}
	return out, nil
}

func streamError(e *p4v1.StreamError) *stream.StreamError {
	return &stream.StreamError{
		CanonicalCode: e.GetCanonicalCode(),
		Message:       e.GetMessage(),
		Space:         e.GetSpace(),
		Code:          e.GetCode(),
	}
}
