// Package jetstream provides a NATS JetStream sink for p4flow. Messages are
// stored in a single stream, one subject per topic, and can be counted back
// through the transport.Archive interface.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/p4flow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when no stream is configured.
	DefaultStreamName = "P4FLOW"

	// DefaultMaxAge bounds how long messages stay in the stream.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("jetstream: transport is closed")

// JetStream is the subset of nats.JetStreamContext used by the sink.
type JetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Connector opens the NATS connection and JetStream context. Tests replace it.
var Connector = func(url string) (JetStream, func(), error) {
	nc, err := nats.Connect(url, nats.Name("p4flow"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return js, nc.Close, nil
}

func init() {
	Register()
}

// Register adds the JetStream sink to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream sink settings.
type Config struct {
	URL        string
	StreamName string
	MaxAge     time.Duration
	Replicas   int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport publishes watermill messages into a JetStream stream.
type Transport struct {
	js     JetStream
	close  func()
	config Config
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("jetstream: URL is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	js, closeConn, err := Connector(cfg.URL)
	if err != nil {
		return nil, err
	}

	t := &Transport{js: js, close: closeConn, config: cfg, logger: logger}
	if err := t.ensureStream(); err != nil {
		closeConn()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
	}

	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return err
	}
	t.logger.Info("JetStream stream updated", watermill.LogFields{"stream": t.config.StreamName})
	return nil
}

// Subject maps a topic onto the stream's subject space.
func (t *Transport) Subject(topic string) string {
	return t.config.StreamName + "." + topic
}

// Publish stores messages in order. Metadata becomes NATS headers.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	subject := t.Subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := t.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: headers}); err != nil {
			return fmt.Errorf("publish to JetStream: %w", err)
		}
	}
	return nil
}

// Count returns the number of stored messages on topic.
func (t *Transport) Count(ctx context.Context, topic string) (int64, error) {
	subject := t.Subject(topic)
	info, err := t.js.StreamInfo(t.config.StreamName, &nats.StreamInfoRequest{SubjectsFilter: subject}, nats.Context(ctx))
	if err != nil {
		return 0, err
	}
	return int64(info.State.Subjects[subject]), nil
}

// Close releases the NATS connection. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.close != nil {
		t.close()
	}
	return nil
}

// Capabilities reports the JetStream capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
