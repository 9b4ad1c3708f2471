package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/p4flow/internal/runtime/config"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	"github.com/drblury/p4flow/internal/runtime/stream"
	transportpkg "github.com/drblury/p4flow/internal/runtime/transport"
	"github.com/drblury/p4flow/internal/runtime/value"
	"github.com/drblury/p4flow/transport"
	"github.com/drblury/p4flow/transport/transporttest"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// scriptedSource yields envs in order and then io.EOF.
func scriptedSource(envs ...*stream.Envelope) stream.Source {
	var (
		mu sync.Mutex
		i  int
	)
	return stream.SourceFunc(func() (*stream.Envelope, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(envs) {
			return nil, io.EOF
		}
		env := envs[i]
		i++
		return env, nil
	})
}

// blockingSource never yields until ctx is done.
func blockingSource(ctx context.Context) stream.Source {
	return stream.SourceFunc(func() (*stream.Envelope, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func digestEnvelope(listID uint64, port uint64) *stream.Envelope {
	return &stream.Envelope{Digest: &stream.DigestList{
		DigestID: 7,
		ListID:   listID,
		Data:     []*value.TypedValue{value.Record(value.Uint(port), value.Bool(true))},
	}}
}

func packetEnvelope(payload string) *stream.Envelope {
	return &stream.Envelope{Packet: &stream.PacketIn{Payload: []byte(payload)}}
}

func fakeSinkFactory(pub *transporttest.Publisher, caps transport.Capabilities) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Sink, error) {
		return transportpkg.Sink{Name: caps.Name, Publisher: pub, Capabilities: caps}, nil
	})
}

// fastRetry keeps failure tests quick.
func fastRetryConfig(conf *configpkg.Config) *configpkg.Config {
	conf.RetryMaxRetries = 1
	conf.RetryInitialInterval = time.Millisecond
	conf.RetryMaxInterval = time.Millisecond
	return conf
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) (*Service, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	if deps.TransportFactory == nil {
		deps.TransportFactory = fakeSinkFactory(pub, transport.Capabilities{Name: "fake", SupportsOrdering: true})
	}
	deps.DisableSignals = true

	s, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	return s, pub
}

func emptyConfig() *configpkg.Config {
	return &configpkg.Config{}
}
