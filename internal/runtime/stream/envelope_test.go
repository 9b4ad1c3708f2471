package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	"github.com/drblury/p4flow/internal/runtime/value"
)

func TestEnvelopeKind(t *testing.T) {
	var nilEnv *Envelope
	tests := []struct {
		name string
		env  *Envelope
		want Kind
	}{
		{"nil", nilEnv, KindUnknown},
		{"empty", &Envelope{}, KindUnknown},
		{"other", &Envelope{Other: "vendor"}, KindUnknown},
		{"arbitration", &Envelope{Arbitration: &ArbitrationUpdate{}}, KindArbitration},
		{"packet", &Envelope{Packet: &PacketIn{}}, KindPacket},
		{"digest", &Envelope{Digest: &DigestList{}}, KindDigest},
		{"idle timeout", &Envelope{IdleTimeout: &IdleTimeoutNotification{}}, KindIdleTimeout},
		{"error", &Envelope{Error: &StreamError{}}, KindError},
		{"two payloads", &Envelope{Packet: &PacketIn{}, Error: &StreamError{}}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.env.Kind())
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind(" Idle-Timeout ")
	require.NoError(t, err)
	assert.Equal(t, KindIdleTimeout, got)

	_, err = ParseKind("unknown")
	assert.ErrorIs(t, err, errspkg.ErrUnknownKind)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	p, err = ParseOverflowPolicy("drop-newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, p)
	assert.Equal(t, "drop_newest", p.String())

	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}

func TestEnvelopeCloneIsDeep(t *testing.T) {
	orig := &Envelope{
		ID:          "a",
		Arbitration: &ArbitrationUpdate{Status: &Status{Code: 0, Message: "ok"}},
		IdleTimeout: &IdleTimeoutNotification{TableEntries: [][]byte{{1, 2}}},
		Digest:      &DigestList{Data: []*value.TypedValue{value.Uint(1)}},
	}
	cp := orig.Clone()

	cp.Arbitration.Status.Message = "changed"
	cp.IdleTimeout.TableEntries[0][0] = 9
	cp.Digest.Data[0] = value.Uint(2)

	assert.Equal(t, "ok", orig.Arbitration.Status.Message)
	assert.Equal(t, byte(1), orig.IdleTimeout.TableEntries[0][0])
	assert.True(t, orig.Digest.Data[0].Equal(value.Uint(1)))
	assert.Nil(t, (*Envelope)(nil).Clone())
}

func TestEnvelopeJSON(t *testing.T) {
	env := &Envelope{
		ID:     "01HZX",
		Seq:    4,
		Digest: &DigestList{DigestID: 1, ListID: 2, Data: []*value.TypedValue{value.Record(value.Uint(1), value.Bool(true))}},
	}
	data, err := jsoncodec.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"digest_id":1`)
	assert.Contains(t, string(data), `"kind":"record"`)

	var out Envelope
	require.NoError(t, jsoncodec.Unmarshal(data, &out))
	require.Equal(t, KindDigest, out.Kind())
	require.Len(t, out.Digest.Data, 1)
	assert.True(t, env.Digest.Data[0].Equal(out.Digest.Data[0]))

	stats, err := jsoncodec.Marshal(KindStats{Kind: KindIdleTimeout})
	require.NoError(t, err)
	assert.Contains(t, string(stats), `"kind":"idle_timeout"`)
}
