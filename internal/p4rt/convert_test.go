package p4rt

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/drblury/p4flow/internal/runtime/decode"
	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/stream"
	"github.com/drblury/p4flow/internal/runtime/value"
)

func bitstring(b ...byte) *p4v1.P4Data {
	return &p4v1.P4Data{Data: &p4v1.P4Data_Bitstring{Bitstring: b}}
}

func TestFromP4Data(t *testing.T) {
	in := &p4v1.P4Data{Data: &p4v1.P4Data_Struct{Struct: &p4v1.P4StructLike{Members: []*p4v1.P4Data{
		bitstring(0x01),
		{Data: &p4v1.P4Data_Bool{Bool: true}},
		{Data: &p4v1.P4Data_Varbit{Varbit: &p4v1.P4Varbit{Bitstring: []byte{0x05}, Bitwidth: 3}}},
		{Data: &p4v1.P4Data_Tuple{Tuple: &p4v1.P4StructLike{Members: []*p4v1.P4Data{bitstring(0x02)}}}},
		{},
	}}}}

	want := value.Record(
		value.Bitstring([]byte{0x01}),
		value.Bool(true),
		value.Varbit([]byte{0x05}, 3),
		value.Tuple(value.Bitstring([]byte{0x02})),
		value.Unset(),
	)
	got := FromP4Data(in)
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestFromP4DataHeadersAndEnums(t *testing.T) {
	valid := &p4v1.P4Data{Data: &p4v1.P4Data_Header{Header: &p4v1.P4Header{IsValid: true, Bitstrings: [][]byte{{0x0a}, {0x0b, 0x0c}}}}}
	assert.True(t, value.Record(value.Bitstring([]byte{0x0a}), value.Bitstring([]byte{0x0b, 0x0c})).Equal(FromP4Data(valid)))

	invalid := &p4v1.P4Data{Data: &p4v1.P4Data_Header{Header: &p4v1.P4Header{IsValid: false}}}
	assert.False(t, FromP4Data(invalid).IsSet())

	enumValue := &p4v1.P4Data{Data: &p4v1.P4Data_EnumValue{EnumValue: []byte{0x03}}}
	assert.True(t, value.Bitstring([]byte{0x03}).Equal(FromP4Data(enumValue)))

	named := &p4v1.P4Data{Data: &p4v1.P4Data_Enum{Enum: "RED"}}
	assert.False(t, FromP4Data(named).IsSet())
	assert.False(t, FromP4Data(nil).IsSet())
}

func TestToP4DataRoundTrip(t *testing.T) {
	v := value.Record(value.Uint(80), value.Tuple(value.Bool(false), value.Varbit([]byte{1}, 2)), value.Unset())
	assert.True(t, v.Equal(FromP4Data(ToP4Data(v))))
}

func TestToEnvelope(t *testing.T) {
	type learnDigest struct {
		Dst  uint64
		Port uint16
		Src  uint64
	}

	tests := []struct {
		name  string
		msg   *p4v1.StreamMessageResponse
		kind  stream.Kind
		check func(t *testing.T, env *stream.Envelope)
	}{
		{
			name: "arbitration",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Arbitration{Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   3,
				Role:       &p4v1.Role{Name: "controller"},
				ElectionId: &p4v1.Uint128{High: 1, Low: 2},
			}}},
			kind: stream.KindArbitration,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.EqualValues(t, 3, env.Arbitration.DeviceID)
				assert.Equal(t, "controller", env.Arbitration.Role)
				assert.Equal(t, stream.Uint128{High: 1, Low: 2}, env.Arbitration.ElectionID)
				assert.Nil(t, env.Arbitration.Status)
			},
		},
		{
			name: "packet",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Packet{Packet: &p4v1.PacketIn{
				Payload:  []byte{0xde, 0xad},
				Metadata: []*p4v1.PacketMetadata{{MetadataId: 1, Value: []byte{0x00, 0x01}}},
			}}},
			kind: stream.KindPacket,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.Equal(t, []byte{0xde, 0xad}, env.Packet.Payload)
				assert.Equal(t, []stream.PacketMetadata{{ID: 1, Value: []byte{0x00, 0x01}}}, env.Packet.Metadata)
			},
		},
		{
			name: "digest",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Digest{Digest: &p4v1.DigestList{
				DigestId:  11,
				ListId:    4,
				Timestamp: 1000,
				Data: []*p4v1.P4Data{{Data: &p4v1.P4Data_Struct{Struct: &p4v1.P4StructLike{Members: []*p4v1.P4Data{
					bitstring(0x01), bitstring(0x01), bitstring(0x02),
				}}}}},
			}}},
			kind: stream.KindDigest,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.EqualValues(t, 11, env.Digest.DigestID)
				assert.EqualValues(t, 4, env.Digest.ListID)
				got, err := decode.Batch[learnDigest](env.Digest.Data)
				require.NoError(t, err)
				assert.Equal(t, []learnDigest{{Dst: 1, Port: 1, Src: 2}}, got)
			},
		},
		{
			name: "idle timeout",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_IdleTimeoutNotification{IdleTimeoutNotification: &p4v1.IdleTimeoutNotification{
				TableEntry: []*p4v1.TableEntry{{TableId: 33, Priority: 10}},
				Timestamp:  77,
			}}},
			kind: stream.KindIdleTimeout,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.EqualValues(t, 77, env.IdleTimeout.Timestamp)
				entries, err := TableEntries(env.IdleTimeout)
				require.NoError(t, err)
				require.Len(t, entries, 1)
				assert.EqualValues(t, 33, entries[0].GetTableId())
				assert.EqualValues(t, 10, entries[0].GetPriority())
			},
		},
		{
			name: "error",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Error{Error: &p4v1.StreamError{
				CanonicalCode: 3, Message: "invalid packet out", Space: "vendor", Code: 42,
			}}},
			kind: stream.KindError,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.Equal(t, stream.StreamError{CanonicalCode: 3, Message: "invalid packet out", Space: "vendor", Code: 42}, *env.Error)
			},
		},
		{
			name: "other",
			msg: &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Other{Other: &anypb.Any{
				TypeUrl: "type.googleapis.com/vendor.Telemetry",
			}}},
			kind: stream.KindUnknown,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.Equal(t, "type.googleapis.com/vendor.Telemetry", env.Other)
			},
		},
		{
			name: "empty",
			msg:  &p4v1.StreamMessageResponse{},
			kind: stream.KindUnknown,
			check: func(t *testing.T, env *stream.Envelope) {
				assert.Equal(t, "empty stream message", env.Other)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ToEnvelope(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind())
			tt.check(t, env)
		})
	}
}

type fakeStream struct {
	msgs chan *p4v1.StreamMessageResponse
	ctx  context.Context
}

func (f *fakeStream) Recv() (*p4v1.StreamMessageResponse, error) {
	select {
	case msg, ok := <-f.msgs:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func TestSourceFeedsRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &fakeStream{msgs: make(chan *p4v1.StreamMessageResponse, 4), ctx: ctx}
	src := NewSource(fs, cancel)

	r := stream.NewRouter(stream.Options{})
	packets := stream.Packets(r)
	require.NoError(t, r.Start(context.Background(), src))

	fs.msgs <- &p4v1.StreamMessageResponse{Update: &p4v1.StreamMessageResponse_Packet{Packet: &p4v1.PacketIn{Payload: []byte{1}}}}
	p, err := packets.AwaitNext(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, p.Payload)

	close(fs.msgs)
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
	assert.Equal(t, stream.StateClosed, r.State())
	assert.Error(t, ctx.Err(), "closing the source cancels the stream context")

	_, err = packets.AwaitNext(time.Second)
	assert.ErrorIs(t, err, errspkg.ErrClosed)
}

func TestSourceCloseUnblocksRecv(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &fakeStream{msgs: make(chan *p4v1.StreamMessageResponse), ctx: ctx}
	src := NewSource(fs, cancel)

	r := stream.NewRouter(stream.Options{})
	require.NoError(t, r.Start(context.Background(), src))
	r.Quit()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
	assert.Equal(t, stream.StateCancelled, r.State())
	assert.NoError(t, src.Close())

	_, err := src.Recv()
	assert.True(t, errors.Is(err, context.Canceled))
}
