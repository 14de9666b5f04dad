// Package postgres implements eventstore.Store on PostgreSQL via
// database/sql and lib/pq.
//
// Global positions are assigned under a transaction-scoped advisory lock so
// they stay contiguous and serialized across appenders. The connection pool
// is bounded (SetMaxOpenConns); callers block for a free connection rather
// than failing fast, and own any timeout policy through their context.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/pkg/id"
)

// Options tunes the connection pool.
type Options struct {
	// MaxConns bounds the pool; 0 means 8.
	MaxConns int
}

// Store is a PostgreSQL-backed eventstore.Store.
type Store struct {
	db  *sql.DB
	gen *id.Generator
}

var _ eventstore.Store = (*Store)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db, gen: id.NewGenerator()}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// InitSchema creates the tables and indexes if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS strand_events (
		position BIGINT PRIMARY KEY,
		stream_id VARCHAR(255) NOT NULL,
		version BIGINT NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(255) NOT NULL,
		payload BYTEA,
		metadata BYTEA,
		created_at_ms BIGINT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_strand_events_stream_version
		ON strand_events(stream_id, version);

	CREATE TABLE IF NOT EXISTS strand_subscriptions (
		scope VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		position BIGINT NOT NULL,
		version BIGINT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		updated_at_ms BIGINT NOT NULL,
		PRIMARY KEY (scope, name)
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Append appends events atomically. The advisory lock serializes position
// assignment across all appenders.
func (s *Store) Append(ctx context.Context, stream string, expectedVersion int64, events []eventstore.EventData) ([]eventstore.Event, error) {
	if stream == "" {
		return nil, errors.New("postgres: empty stream id")
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext('strand_events'))"); err != nil {
		return nil, fmt.Errorf("postgres: acquire append lock: %w", err)
	}

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM strand_events WHERE stream_id = $1", stream).
		Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("postgres: current version: %w", err)
	}
	if expectedVersion != eventstore.AnyVersion && expectedVersion != currentVersion {
		return nil, fmt.Errorf("stream %q at version %d, expected %d: %w",
			stream, currentVersion, expectedVersion, eventstore.ErrConcurrencyConflict)
	}

	var lastPos uint64
	err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) FROM strand_events").Scan(&lastPos)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strand_events (position, stream_id, version, event_id, event_type, payload, metadata, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: prepare insert: %w", err)
	}
	defer stmt.Close()

	nowMs := time.Now().UnixMilli()
	out := make([]eventstore.Event, len(events))
	for i, ed := range events {
		ev := eventstore.Event{
			ID:          s.gen.Next().String(),
			Stream:      stream,
			Version:     currentVersion + int64(i) + 1,
			Position:    lastPos + uint64(i) + 1,
			Type:        ed.Type,
			Payload:     ed.Payload,
			Metadata:    ed.Metadata,
			CreatedAtMs: nowMs,
		}
		if _, err := stmt.ExecContext(ctx, int64(ev.Position), ev.Stream, ev.Version, ev.ID,
			ev.Type, ev.Payload, ev.Metadata, ev.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("postgres: insert event: %w", err)
		}
		out[i] = ev
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return out, nil
}

const eventColumns = "position, stream_id, version, event_id, event_type, payload, metadata, created_at_ms"

func scanEvents(rows *sql.Rows) ([]eventstore.Event, error) {
	var out []eventstore.Event
	for rows.Next() {
		var ev eventstore.Event
		var pos int64
		if err := rows.Scan(&pos, &ev.Stream, &ev.Version, &ev.ID, &ev.Type,
			&ev.Payload, &ev.Metadata, &ev.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Position = uint64(pos)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReadStream reads forward from fromVersion (inclusive).
func (s *Store) ReadStream(ctx context.Context, stream string, fromVersion int64, limit int) ([]eventstore.Event, error) {
	if fromVersion <= 0 {
		fromVersion = 1
	}
	query := "SELECT " + eventColumns + " FROM strand_events WHERE stream_id = $1 AND version >= $2 ORDER BY version ASC"
	args := []interface{}{stream, fromVersion}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: read stream: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadAll reads forward by global position from fromPosition (inclusive).
func (s *Store) ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]eventstore.Event, error) {
	if fromPosition == 0 {
		fromPosition = 1
	}
	query := "SELECT " + eventColumns + " FROM strand_events WHERE position >= $1 ORDER BY position ASC"
	args := []interface{}{int64(fromPosition)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: read all: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestPosition returns the current maximum global position, 0 if empty.
func (s *Store) LatestPosition(ctx context.Context) (uint64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) FROM strand_events").Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("postgres: latest position: %w", err)
	}
	return uint64(pos), nil
}

// ListStreams returns all known streams with their current versions.
func (s *Store) ListStreams(ctx context.Context) ([]eventstore.StreamInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, MAX(version), MIN(created_at_ms)
		FROM strand_events GROUP BY stream_id ORDER BY stream_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list streams: %w", err)
	}
	defer rows.Close()

	var out []eventstore.StreamInfo
	for rows.Next() {
		var si eventstore.StreamInfo
		if err := rows.Scan(&si.Stream, &si.Version, &si.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("postgres: scan stream: %w", err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// EnsureCursor creates the cursor seeded at the supplied start when absent.
// ON CONFLICT DO NOTHING guarantees at most one row under concurrency.
func (s *Store) EnsureCursor(ctx context.Context, scope eventstore.Scope, name string, startPosition uint64, startVersion int64) (eventstore.Cursor, bool, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO strand_subscriptions (scope, name, position, version, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (scope, name) DO NOTHING
	`, string(scope), name, int64(startPosition), startVersion, now)
	if err != nil {
		return eventstore.Cursor{}, false, fmt.Errorf("postgres: ensure cursor: %w", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	cur, err := s.LoadCursor(ctx, scope, name)
	if err != nil {
		return eventstore.Cursor{}, false, err
	}
	return cur, created, nil
}

// LoadCursor returns the cursor, or ErrNotFound.
func (s *Store) LoadCursor(ctx context.Context, scope eventstore.Scope, name string) (eventstore.Cursor, error) {
	cur := eventstore.Cursor{Scope: scope, Name: name}
	var pos int64
	err := s.db.QueryRowContext(ctx, `
		SELECT position, version, created_at_ms, updated_at_ms
		FROM strand_subscriptions WHERE scope = $1 AND name = $2
	`, string(scope), name).Scan(&pos, &cur.Version, &cur.CreatedAtMs, &cur.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.Cursor{}, eventstore.ErrNotFound
	}
	if err != nil {
		return eventstore.Cursor{}, fmt.Errorf("postgres: load cursor: %w", err)
	}
	cur.Position = uint64(pos)
	return cur, nil
}

// CommitCursor persists new cursor values with a conditional UPDATE; the
// WHERE clause enforces the no-regression policy atomically. All-streams
// cursors interleave versions from many streams, so only stream-scope
// cursors get the version guard.
func (s *Store) CommitCursor(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE strand_subscriptions
		SET position = $3, version = $4, updated_at_ms = $5
		WHERE scope = $1 AND name = $2 AND position < $3
			AND (scope = '*' OR version <= $4)
	`, string(scope), name, int64(position), version, time.Now().UnixMilli())
	if err != nil {
		return eventstore.Cursor{}, fmt.Errorf("postgres: commit cursor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return s.LoadCursor(ctx, scope, name)
	}

	// No row moved: distinguish missing, no-op, and regression.
	cur, err := s.LoadCursor(ctx, scope, name)
	if err != nil {
		return eventstore.Cursor{}, err
	}
	if position == cur.Position && (scope.IsAll() || version >= cur.Version) {
		return cur, nil
	}
	if position >= cur.Position {
		return eventstore.Cursor{}, fmt.Errorf("ack version %d behind cursor %d: %w",
			version, cur.Version, eventstore.ErrOutOfOrderAck)
	}
	return eventstore.Cursor{}, fmt.Errorf("ack position %d behind cursor %d: %w",
		position, cur.Position, eventstore.ErrOutOfOrderAck)
}

// DeleteCursor removes the cursor; absent cursors are a no-op.
func (s *Store) DeleteCursor(ctx context.Context, scope eventstore.Scope, name string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM strand_subscriptions WHERE scope = $1 AND name = $2", string(scope), name)
	if err != nil {
		return fmt.Errorf("postgres: delete cursor: %w", err)
	}
	return nil
}

// ListCursors returns all cursors, any scope.
func (s *Store) ListCursors(ctx context.Context) ([]eventstore.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, name, position, version, created_at_ms, updated_at_ms
		FROM strand_subscriptions ORDER BY scope, name
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cursors: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Cursor
	for rows.Next() {
		var cur eventstore.Cursor
		var scope string
		var pos int64
		if err := rows.Scan(&scope, &cur.Name, &pos, &cur.Version, &cur.CreatedAtMs, &cur.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("postgres: scan cursor: %w", err)
		}
		cur.Scope = eventstore.Scope(scope)
		cur.Position = uint64(pos)
		out = append(out, cur)
	}
	return out, rows.Err()
}
