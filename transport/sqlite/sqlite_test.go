package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/p4flow/internal/runtime/metadata"
	"github.com/drblury/p4flow/transport"
	"github.com/drblury/p4flow/transport/transporttest"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func digestMessage(uuid string, seq string) *message.Message {
	msg := message.NewMessage(uuid, []byte(`{"kind":"digest"}`))
	msg.Metadata.Set(metadata.KeyKind, "digest")
	msg.Metadata.Set(metadata.KeySeq, seq)
	return msg
}

func TestRegister(t *testing.T) {
	orig := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = orig })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsOrdering)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.SQLiteCapabilities, Capabilities())
}

func TestConfig_withDefaults(t *testing.T) {
	assert.Equal(t, DefaultFilePath, Config{}.withDefaults().FilePath)
	assert.Equal(t, "custom.db", Config{FilePath: "custom.db"}.withDefaults().FilePath)
}

func TestBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	tr, err := Build(context.Background(), &transporttest.Config{SQLiteFile: path}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Publisher.Close() })

	assert.Nil(t, tr.Subscriber)
	_, ok := tr.Publisher.(transport.Archive)
	assert.True(t, ok)
}

func TestPublishAndList(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, tr.Publish("p4flow.digest", digestMessage("a", "1"), digestMessage("b", "2")))
	require.NoError(t, tr.Publish("p4flow.packet", message.NewMessage("c", nil)))

	n, err := tr.Count(ctx, "p4flow.digest")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := tr.List(ctx, "p4flow.digest", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].UUID)
	assert.Equal(t, "digest", rows[0].Kind)
	assert.Equal(t, uint64(1), rows[0].Seq)
	assert.Equal(t, []byte(`{"kind":"digest"}`), rows[0].Payload)
	assert.Equal(t, "digest", rows[0].Metadata[metadata.KeyKind])
	assert.Equal(t, "b", rows[1].UUID)

	rows, err = tr.List(ctx, "p4flow.packet", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Kind)
}

func TestPublishIgnoresDuplicateUUID(t *testing.T) {
	tr := newTestTransport(t)

	require.NoError(t, tr.Publish("t", digestMessage("same", "1")))
	require.NoError(t, tr.Publish("t", digestMessage("same", "1")))

	n, err := tr.Count(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClose(t *testing.T) {
	tr, err := New(Config{FilePath: ":memory:"}, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Publish("t", digestMessage("a", "1")), ErrClosed)
	_, err = tr.Count(context.Background(), "t")
	assert.ErrorIs(t, err, ErrClosed)
}
