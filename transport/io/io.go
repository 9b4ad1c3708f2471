// Package io provides a JSON lines file sink for p4flow.
package io

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	"github.com/drblury/p4flow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "p4flow.jsonl"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger)
}

func init() {
	Register()
}

// Register registers the I/O sink with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: pub}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// Record is one line of the file.
type Record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends one JSON line per message.
type Publisher struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	logger watermill.LoggerAdapter
}

// NewPublisher opens filePath for appending, creating it when missing.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) (*Publisher, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{f: f, w: bufio.NewWriter(f), logger: logger}, nil
}

// Publish writes and flushes messages in order.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return errors.New("io sink: publisher closed")
	}
	for _, msg := range messages {
		if err := jsoncodec.Encode(p.w, Record{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		}); err != nil {
			return fmt.Errorf("io sink: encode %s: %w", msg.UUID, err)
		}
	}
	return p.w.Flush()
}

// Close flushes and closes the file.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return nil
	}
	err := errors.Join(p.w.Flush(), p.f.Close())
	p.f = nil
	return err
}

// ReadRecords decodes every record in r, for replaying a file.
func ReadRecords(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := jsoncodec.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("io sink: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
