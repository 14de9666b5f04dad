// Package memorylog implements eventstore.Store entirely in memory.
//
// It mirrors the semantics of the Pebble backend (contiguous versions and
// positions, optimistic concurrency, no-regression cursors) without
// persistence, for tests and lightweight embedding.
package memorylog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/pkg/id"
)

type cursorKey struct {
	scope eventstore.Scope
	name  string
}

// Store is an in-memory eventstore.Store.
type Store struct {
	mu      sync.RWMutex
	gen     *id.Generator
	all     []eventstore.Event
	streams map[string][]int // stream -> indices into all
	created map[string]int64
	cursors map[cursorKey]eventstore.Cursor
}

var _ eventstore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		gen:     id.NewGenerator(),
		streams: map[string][]int{},
		created: map[string]int64{},
		cursors: map[cursorKey]eventstore.Cursor{},
	}
}

// Close implements eventstore.Store.
func (s *Store) Close() error { return nil }

// Append appends events atomically under the store mutex.
func (s *Store) Append(ctx context.Context, stream string, expectedVersion int64, events []eventstore.EventData) ([]eventstore.Event, error) {
	if stream == "" {
		return nil, fmt.Errorf("memorylog: empty stream id")
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(len(s.streams[stream]))
	if expectedVersion != eventstore.AnyVersion && expectedVersion != current {
		return nil, fmt.Errorf("stream %q at version %d, expected %d: %w",
			stream, current, expectedVersion, eventstore.ErrConcurrencyConflict)
	}
	if current == 0 {
		s.created[stream] = time.Now().UnixMilli()
	}

	nowMs := time.Now().UnixMilli()
	out := make([]eventstore.Event, len(events))
	for i, ed := range events {
		ev := eventstore.Event{
			ID:          s.gen.Next().String(),
			Stream:      stream,
			Version:     current + int64(i) + 1,
			Position:    uint64(len(s.all) + 1),
			Type:        ed.Type,
			Payload:     append([]byte(nil), ed.Payload...),
			Metadata:    append([]byte(nil), ed.Metadata...),
			CreatedAtMs: nowMs,
		}
		s.streams[stream] = append(s.streams[stream], len(s.all))
		s.all = append(s.all, ev)
		out[i] = ev
	}
	return out, nil
}

// ReadStream reads forward from fromVersion (inclusive).
func (s *Store) ReadStream(ctx context.Context, stream string, fromVersion int64, limit int) ([]eventstore.Event, error) {
	if fromVersion <= 0 {
		fromVersion = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.streams[stream]
	var out []eventstore.Event
	for _, i := range idxs {
		ev := s.all[i]
		if ev.Version < fromVersion {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ReadAll reads forward by global position from fromPosition (inclusive).
func (s *Store) ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]eventstore.Event, error) {
	if fromPosition == 0 {
		fromPosition = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fromPosition > uint64(len(s.all)) {
		return nil, nil
	}
	rest := s.all[fromPosition-1:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]eventstore.Event(nil), rest...), nil
}

// LatestPosition returns the current maximum global position, 0 if empty.
func (s *Store) LatestPosition(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.all)), nil
}

// ListStreams returns all known streams in name order.
func (s *Store) ListStreams(ctx context.Context) ([]eventstore.StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]eventstore.StreamInfo, 0, len(s.streams))
	for name, idxs := range s.streams {
		out = append(out, eventstore.StreamInfo{
			Stream:      name,
			Version:     int64(len(idxs)),
			CreatedAtMs: s.created[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out, nil
}

// EnsureCursor creates the cursor seeded at the supplied start when absent.
func (s *Store) EnsureCursor(ctx context.Context, scope eventstore.Scope, name string, startPosition uint64, startVersion int64) (eventstore.Cursor, bool, error) {
	if name == "" {
		return eventstore.Cursor{}, false, fmt.Errorf("memorylog: empty subscription name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := cursorKey{scope: scope, name: name}
	if cur, ok := s.cursors[k]; ok {
		return cur, false, nil
	}
	now := time.Now().UnixMilli()
	cur := eventstore.Cursor{
		Scope:       scope,
		Name:        name,
		Position:    startPosition,
		Version:     startVersion,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	s.cursors[k] = cur
	return cur, true, nil
}

// LoadCursor returns the cursor, or ErrNotFound.
func (s *Store) LoadCursor(ctx context.Context, scope eventstore.Scope, name string) (eventstore.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cursors[cursorKey{scope: scope, name: name}]
	if !ok {
		return eventstore.Cursor{}, eventstore.ErrNotFound
	}
	return cur, nil
}

// CommitCursor persists new cursor values with the no-regression policy.
func (s *Store) CommitCursor(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := cursorKey{scope: scope, name: name}
	cur, ok := s.cursors[k]
	if !ok {
		return eventstore.Cursor{}, eventstore.ErrNotFound
	}
	if position < cur.Position {
		return eventstore.Cursor{}, fmt.Errorf("ack position %d behind cursor %d: %w",
			position, cur.Position, eventstore.ErrOutOfOrderAck)
	}
	// All-streams cursors interleave versions from many streams; only
	// stream-scope cursors get the version guard.
	if !scope.IsAll() && version < cur.Version {
		return eventstore.Cursor{}, fmt.Errorf("ack version %d behind cursor %d: %w",
			version, cur.Version, eventstore.ErrOutOfOrderAck)
	}
	if position == cur.Position {
		return cur, nil
	}
	cur.Position = position
	cur.Version = version
	cur.UpdatedAtMs = time.Now().UnixMilli()
	s.cursors[k] = cur
	return cur, nil
}

// DeleteCursor removes the cursor; absent cursors are a no-op.
func (s *Store) DeleteCursor(ctx context.Context, scope eventstore.Scope, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, cursorKey{scope: scope, name: name})
	return nil
}

// ListCursors returns all cursors, any scope.
func (s *Store) ListCursors(ctx context.Context) ([]eventstore.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]eventstore.Cursor, 0, len(s.cursors))
	for _, cur := range s.cursors {
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
