package jsoncodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveRow struct {
	Topic   string            `json:"topic"`
	Seq     uint64            `json:"seq"`
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := archiveRow{Topic: "p4flow.packet", Seq: 42, Payload: []byte{0xde, 0xad}}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":"3q0="`)

	var out archiveRow
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	indented, err := MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(indented), "\n  \"topic\""), "expected indented output, got %s", indented)
}

func TestMarshalSortsMapKeys(t *testing.T) {
	headers := map[string]string{"p4flow_topic": "t", "correlation_id": "c", "p4flow_kind": "digest"}
	for range 5 {
		data, err := Marshal(headers)
		require.NoError(t, err)
		assert.Equal(t, `{"correlation_id":"c","p4flow_kind":"digest","p4flow_topic":"t"}`, string(data))
	}
}

func TestEncodeWritesJSONLines(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, archiveRow{Topic: "a", Seq: 1}))
	require.NoError(t, Encode(buf, archiveRow{Topic: "b", Seq: 2}))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	dec := NewDecoder(buf)
	var first, second archiveRow
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "b", second.Topic)
	assert.False(t, dec.More())
}

func TestDecodeSingleValue(t *testing.T) {
	var row archiveRow
	require.NoError(t, Decode(strings.NewReader(`{"topic":"p4flow.digest","seq":9}`+"\n"), &row))
	assert.Equal(t, archiveRow{Topic: "p4flow.digest", Seq: 9}, row)

	assert.Error(t, Decode(strings.NewReader(`{"topic":`), &row))
}
