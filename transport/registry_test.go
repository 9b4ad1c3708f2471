package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinkConfig implements Config with only the sink name set.
type sinkConfig struct{ name string }

func (c *sinkConfig) GetPubSubSystem() string       { return c.name }
func (c *sinkConfig) GetKafkaBrokers() []string     { return nil }
func (c *sinkConfig) GetKafkaClientID() string      { return "" }
func (c *sinkConfig) GetRabbitMQURL() string        { return "" }
func (c *sinkConfig) GetNATSURL() string            { return "" }
func (c *sinkConfig) GetJetStreamStream() string    { return "" }
func (c *sinkConfig) GetHTTPPublisherURL() string   { return "" }
func (c *sinkConfig) GetIOFile() string             { return "" }
func (c *sinkConfig) GetSQLiteFile() string         { return "" }
func (c *sinkConfig) GetPostgresURL() string        { return "" }
func (c *sinkConfig) GetAWSRegion() string          { return "" }
func (c *sinkConfig) GetAWSAccountID() string       { return "" }
func (c *sinkConfig) GetAWSAccessKeyID() string     { return "" }
func (c *sinkConfig) GetAWSSecretAccessKey() string { return "" }
func (c *sinkConfig) GetAWSEndpoint() string        { return "" }

type nopPublisher struct{}

func (nopPublisher) Publish(string, ...*message.Message) error { return nil }
func (nopPublisher) Close() error                              { return nil }

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (nopSubscriber) Close() error { return nil }

// recordingBuilder returns a builder that appends name to built on each call.
func recordingBuilder(name string, built *[]string) Builder {
	return func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		*built = append(*built, name)
		return Transport{Publisher: nopPublisher{}}, nil
	}
}

func TestRegistry_BuildSelectsSink(t *testing.T) {
	reg := NewRegistry()
	var built []string
	reg.Register("channel", recordingBuilder("channel", &built))
	reg.Register("Kafka", recordingBuilder("kafka", &built))

	for _, name := range []string{"", "kafka", " KAFKA ", "channel"} {
		_, err := reg.Build(context.Background(), &sinkConfig{name: name}, watermill.NopLogger{})
		require.NoError(t, err, "sink %q", name)
	}
	assert.Equal(t, []string{"channel", "kafka", "kafka", "channel"}, built)
	assert.Equal(t, []string{"channel", "kafka"}, reg.Names())
}

func TestRegistry_BuildErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("broker unreachable")
	reg.Register("broken", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	})
	reg.Register("subscribe-only", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Subscriber: nopSubscriber{}}, nil
	})

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = reg.Build(context.Background(), &sinkConfig{name: "missing"}, nil)
	assert.ErrorIs(t, err, ErrUnknownSink)
	assert.ErrorContains(t, err, "broken, subscribe-only")

	_, err = reg.Build(context.Background(), &sinkConfig{name: "broken"}, nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "build broken sink")

	_, err = reg.Build(context.Background(), &sinkConfig{name: "subscribe-only"}, nil)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestRegistry_Capabilities(t *testing.T) {
	reg := NewRegistry()
	var built []string
	reg.RegisterWithCapabilities("archive", recordingBuilder("archive", &built), Capabilities{Name: "archive", Durable: true})
	reg.Register("plain", recordingBuilder("plain", &built))

	assert.True(t, reg.GetCapabilities("ARCHIVE").Durable)
	assert.Equal(t, Capabilities{Name: "plain"}, reg.GetCapabilities("plain"))
	assert.Equal(t, Capabilities{Name: "unknown"}, reg.GetCapabilities("unknown"))
}

func TestRegistry_Alias(t *testing.T) {
	reg := NewRegistry()
	var built []string
	reg.RegisterWithCapabilities("postgres", recordingBuilder("postgres", &built), PostgresCapabilities)

	require.NoError(t, reg.Alias("postgresql", "postgres"))
	assert.True(t, reg.Has("PostgreSQL"))
	assert.Equal(t, "postgres", reg.GetCapabilities("postgresql").Name)

	_, err := reg.Build(context.Background(), &sinkConfig{name: "postgresql"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres"}, built)

	assert.ErrorIs(t, reg.Alias("pg", "nope"), ErrUnknownAlias)
	assert.False(t, reg.Has("pg"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	builder := func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: nopPublisher{}, Subscriber: nopSubscriber{}}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				reg.Register("channel", builder)
				_, _ = reg.Build(context.Background(), &sinkConfig{}, nil)
				reg.GetCapabilities("channel")
				reg.Names()
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("channel"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	orig := DefaultRegistry
	t.Cleanup(func() { DefaultRegistry = orig })
	DefaultRegistry = NewRegistry()

	var built []string
	Register("io", recordingBuilder("io", &built))
	RegisterWithCapabilities("sqlite", recordingBuilder("sqlite", &built), SQLiteCapabilities)
	require.NoError(t, Alias("sqlite3", "sqlite"))

	_, err := Build(context.Background(), &sinkConfig{name: "sqlite3"}, nil)
	require.NoError(t, err)
	_, err = Build(context.Background(), &sinkConfig{name: "io"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"sqlite", "io"}, built)
	assert.True(t, GetCapabilities("sqlite3").Durable)
	assert.Equal(t, []string{"io", "sqlite", "sqlite3"}, DefaultRegistry.Names())
}
