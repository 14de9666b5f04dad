package eventstore

import (
	"context"
)

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion int64 = -1

// Event is one immutable record in the log.
type Event struct {
	// ID is a sortable hex identifier assigned at append time.
	ID string
	// Stream is the caller-supplied stream identifier.
	Stream string
	// Version is the per-stream sequence, contiguous from 1.
	Version int64
	// Position is the global sequence across all streams, contiguous from 1.
	Position uint64
	// Type tags the kind of event.
	Type string
	// Payload is the opaque event body.
	Payload []byte
	// Metadata is opaque caller metadata.
	Metadata []byte
	// CreatedAtMs is the append wall-clock time in Unix milliseconds.
	CreatedAtMs int64
}

// EventData is the appendable portion of an event; the store assigns the rest.
type EventData struct {
	Type     string
	Payload  []byte
	Metadata []byte
}

// StreamInfo summarizes one stream.
type StreamInfo struct {
	Stream      string `json:"stream"`
	Version     int64  `json:"version"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Log is the append/read contract consumed by the subscription engine.
type Log interface {
	// Append atomically appends events to stream, enforcing expectedVersion
	// (AnyVersion, 0 for a new stream, or an exact current version).
	// Returns the stored events with assigned versions and positions.
	Append(ctx context.Context, stream string, expectedVersion int64, events []EventData) ([]Event, error)

	// ReadStream reads forward from fromVersion (inclusive), up to limit
	// events. Empty result when nothing exists at/after fromVersion.
	ReadStream(ctx context.Context, stream string, fromVersion int64, limit int) ([]Event, error)

	// ReadAll reads forward across all streams from fromPosition (inclusive),
	// ordered by global position, up to limit events.
	ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]Event, error)

	// LatestPosition returns the current maximum global position, 0 if empty.
	LatestPosition(ctx context.Context) (uint64, error)

	// ListStreams returns all known streams.
	ListStreams(ctx context.Context) ([]StreamInfo, error)
}

// Scope identifies what a subscription observes: a single stream id, or
// ScopeAll for every stream.
type Scope string

// ScopeAll subscribes across all streams.
const ScopeAll Scope = "*"

// IsAll reports whether the scope covers all streams.
func (s Scope) IsAll() bool { return s == ScopeAll }

// Matches reports whether an event on the given stream falls inside the scope.
func (s Scope) Matches(stream string) bool { return s.IsAll() || string(s) == stream }

// Cursor is the durable record of a named subscription.
type Cursor struct {
	Scope Scope  `json:"scope"`
	Name  string `json:"name"`
	// Position is the last acknowledged global position.
	Position uint64 `json:"position"`
	// Version is the last acknowledged stream version; meaningful only for
	// single-stream scopes.
	Version     int64 `json:"version"`
	CreatedAtMs int64 `json:"created_at_ms"`
	UpdatedAtMs int64 `json:"updated_at_ms"`
}

// CursorStore persists subscription cursors.
type CursorStore interface {
	// EnsureCursor returns the cursor for (scope, name), creating it seeded
	// at (startPosition, startVersion) when absent. The second result is true
	// when a new row was created. Safe under concurrent calls for the same
	// key: at most one row is created.
	EnsureCursor(ctx context.Context, scope Scope, name string, startPosition uint64, startVersion int64) (Cursor, bool, error)

	// LoadCursor returns the cursor, or ErrNotFound.
	LoadCursor(ctx context.Context, scope Scope, name string) (Cursor, error)

	// CommitCursor persists new cursor values. Returns ErrNotFound when the
	// cursor does not exist and ErrOutOfOrderAck when position is behind the
	// stored one. Committing the stored position again is a no-op success.
	CommitCursor(ctx context.Context, scope Scope, name string, position uint64, version int64) (Cursor, error)

	// DeleteCursor removes the cursor. Deleting an absent cursor is a no-op.
	DeleteCursor(ctx context.Context, scope Scope, name string) error

	// ListCursors returns all cursors, any scope.
	ListCursors(ctx context.Context) ([]Cursor, error)
}

// Store is the full backend surface: event log plus cursor persistence.
type Store interface {
	Log
	CursorStore
	Close() error
}
