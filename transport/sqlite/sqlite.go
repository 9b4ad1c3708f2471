// Package sqlite provides a SQLite archive sink for p4flow. Every forwarded
// message is appended to a local table that can be queried after the fact.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	"github.com/drblury/p4flow/internal/runtime/metadata"
	"github.com/drblury/p4flow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFilePath is used when no database file is configured.
const DefaultFilePath = "p4flow_archive.db"

// ErrClosed is returned by Publish and Count after Close.
var ErrClosed = errors.New("sqlite: transport is closed")

func init() {
	Register()
}

// Register adds the SQLite sink to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build creates a new SQLite sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the database file. ":memory:" keeps the
	// archive in memory, which is useful in tests.
	FilePath string
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	return c
}

// Row is one archived message.
type Row struct {
	UUID      string
	Topic     string
	Kind      string
	Seq       uint64
	Payload   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// Transport appends published messages to the archive table.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New opens the database and creates the archive table if needed.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Transport{db: db, config: cfg, logger: logger}
	if err := t.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return t, nil
}

func (t *Transport) initSchema() error {
	_, err := t.db.Exec(`
	CREATE TABLE IF NOT EXISTS p4flow_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL DEFAULT 0,
		payload BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_p4flow_messages_topic ON p4flow_messages(topic, id);
	`)
	return err
}

// Publish inserts messages in a single transaction. Duplicate UUIDs are
// ignored so redelivered messages are stored once.
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

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO p4flow_messages (uuid, topic, kind, seq, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		md, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		seq, _ := strconv.ParseUint(msg.Metadata.Get(metadata.KeySeq), 10, 64)
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}

		if _, err := stmt.Exec(msg.UUID, topic, msg.Metadata.Get(metadata.KeyKind), int64(seq), payload, string(md), time.Now().UTC()); err != nil {
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
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM p4flow_messages WHERE topic = ?`, topic).Scan(&n)
	return n, err
}

// List returns up to limit archived messages on topic, oldest first.
func (t *Transport) List(ctx context.Context, topic string, limit int) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT uuid, topic, kind, seq, payload, metadata, created_at
		FROM p4flow_messages
		WHERE topic = ?
		ORDER BY id
		LIMIT ?
	`, topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r   Row
			seq int64
			md  sql.NullString
		)
		if err := rows.Scan(&r.UUID, &r.Topic, &r.Kind, &seq, &r.Payload, &md, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		if md.Valid && md.String != "" {
			if err := jsoncodec.Unmarshal([]byte(md.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", r.UUID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
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

// Capabilities reports the SQLite capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}
