// Package store persists samples, reset markers and bookkeeping metadata
// in a SQLite database running in WAL mode.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SchemaVersion is written to the meta table by Migrate.
const SchemaVersion = "1"

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreWrite       = errors.New("store write failed")
	ErrStoreRead        = errors.New("store read failed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidResetKind = errors.New("invalid reset kind")
)

// Store wraps the SQL database connection
type Store struct {
	*sql.DB

	writeRetries int
	retryBackoff time.Duration
}

// Option tunes a Store.
type Option func(*Store)

// WithWriteRetries sets how many times a transient write failure is retried
// and the initial backoff between attempts.
func WithWriteRetries(n int, backoff time.Duration) Option {
	return func(s *Store) {
		s.writeRetries = n
		s.retryBackoff = backoff
	}
}

// Open opens a SQLite database connection
func Open(dbPath string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrStoreUnavailable, err)
		}
	}

	// synchronous=FULL makes each commit durable before it returns
	dsn := fmt.Sprintf("file:%s?_synchronous=FULL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStoreUnavailable, err)
	}

	// Enable WAL mode so readers never block the sampler
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL mode: %w", ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{
		DB:           db,
		writeRetries: 3,
		retryBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the database schema
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		ts_ms INTEGER NOT NULL,
		session_key TEXT,
		model TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		total_tokens INTEGER,
		remaining_tokens INTEGER,
		context_tokens INTEGER,
		percent_used INTEGER,
		net_rx_bytes INTEGER,
		net_tx_bytes INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_samples_identity ON samples(ts_ms, IFNULL(session_key, ''));
	CREATE INDEX IF NOT EXISTS idx_samples_session_ts ON samples(session_key, ts_ms);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reset_markers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		ts_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reset_markers_ts ON reset_markers(ts_ms);
	`

	if _, err := s.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrStoreUnavailable, err)
	}
	if err := s.SetMeta(ctx, MetaSchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// OpenAndMigrate opens the database and makes sure the schema exists.
func OpenAndMigrate(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	s, err := Open(dbPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Snapshot is a consistent read view of the store.
type Snapshot struct {
	q querier
}

// ReadSnapshot runs fn inside a single read transaction so every query in it
// observes the same database state, even while the sampler writes or prunes.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(*Snapshot) error) error {
	tx, err := s.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("%w: begin snapshot: %w", ErrStoreRead, err)
	}
	defer tx.Rollback()

	return fn(&Snapshot{q: tx})
}

func (s *Store) snapshot() *Snapshot {
	return &Snapshot{q: s.DB}
}

// withRetry runs a write, retrying while SQLite reports the database as
// busy or locked. Other failures are returned immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= s.writeRetries {
			return fmt.Errorf("%w: %s: %w", ErrStoreWrite, op, err)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %w", ErrStoreWrite, op, ctx.Err())
		case <-t.C:
		}
		backoff *= 2
	}
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
