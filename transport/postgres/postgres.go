// Package postgres provides a PostgreSQL archive sink for p4flow.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	"github.com/drblury/p4flow/internal/runtime/metadata"
	"github.com/drblury/p4flow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultSchemaName is the schema holding the archive table.
const DefaultSchemaName = "p4flow"

// ErrClosed is returned by Publish and Count after Close.
var ErrClosed = errors.New("postgres: transport is closed")

var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Opener opens the database handle. Tests replace it.
var Opener = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func init() {
	Register()
}

// Register adds the PostgreSQL sink, and its "postgresql" alias, to the
// default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	_ = transport.Alias("postgresql", TransportName)
}

// Build creates a new PostgreSQL sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	ConnectionString string
	// SchemaName must be a plain lower-case identifier.
	SchemaName   string
	MaxOpenConns int
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

func (c Config) validate() error {
	if c.ConnectionString == "" {
		return errors.New("postgres: connection string is required")
	}
	if !schemaNamePattern.MatchString(c.SchemaName) {
		return fmt.Errorf("postgres: invalid schema name %q", c.SchemaName)
	}
	return nil
}

// Transport appends published messages to the archive table.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New connects to PostgreSQL and creates the archive schema if needed.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := Opener(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	t := &Transport{db: db, config: cfg, logger: logger}
	if err := t.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return t, nil
}

func (t *Transport) table() string {
	return t.config.SchemaName + ".messages"
}

func (t *Transport) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(t.config.SchemaName) {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// schemaStatements returns the DDL for schema. The name is checked against
// schemaNamePattern before it gets here.
func schemaStatements(schema string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s.messages (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		seq BIGINT NOT NULL DEFAULT 0,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_messages_topic ON %s.messages(topic, id)`, schema),
	}
}

// Publish inserts messages in a single transaction. Duplicate UUIDs are
// ignored.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	// #nosec G201 - schema name is validated in Config.validate
	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (uuid, topic, kind, seq, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uuid) DO NOTHING
	`, t.table()))
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		md, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		seq, _ := strconv.ParseInt(msg.Metadata.Get(metadata.KeySeq), 10, 64)
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Metadata.Get(metadata.KeyKind), seq, payload, string(md)); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.UUID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of archived messages on topic.
func (t *Transport) Count(ctx context.Context, topic string) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0, ErrClosed
	}

	var n int64
	// #nosec G201 - schema name is validated in Config.validate
	err := t.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE topic = $1`, t.table()), topic).Scan(&n)
	return n, err
}

// Close closes the database. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}

// Capabilities reports the PostgreSQL capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}
