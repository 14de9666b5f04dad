package pebblelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/strand/internal/eventstore"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
)

func validCursorKey(scope eventstore.Scope, name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("pebblelog: invalid subscription name %q", name)
	}
	if !scope.IsAll() {
		return validStream(string(scope))
	}
	return nil
}

// EnsureCursor creates the cursor seeded at the supplied start when absent;
// otherwise returns the existing cursor untouched.
func (s *Store) EnsureCursor(ctx context.Context, scope eventstore.Scope, name string, startPosition uint64, startVersion int64) (eventstore.Cursor, bool, error) {
	if err := validCursorKey(scope, name); err != nil {
		return eventstore.Cursor{}, false, err
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	cur, err := s.getCursorLocked(scope, name)
	if err == nil {
		return cur, false, nil
	}
	if !errors.Is(err, eventstore.ErrNotFound) {
		return eventstore.Cursor{}, false, err
	}

	now := time.Now().UnixMilli()
	cur = eventstore.Cursor{
		Scope:       scope,
		Name:        name,
		Position:    startPosition,
		Version:     startVersion,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := s.putCursorLocked(cur); err != nil {
		return eventstore.Cursor{}, false, err
	}
	return cur, true, nil
}

// LoadCursor returns the cursor for (scope, name), or ErrNotFound.
func (s *Store) LoadCursor(ctx context.Context, scope eventstore.Scope, name string) (eventstore.Cursor, error) {
	if err := validCursorKey(scope, name); err != nil {
		return eventstore.Cursor{}, err
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.getCursorLocked(scope, name)
}

// CommitCursor persists new cursor values. Regressions are rejected with
// ErrOutOfOrderAck; committing the stored position again is a no-op.
func (s *Store) CommitCursor(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	if err := validCursorKey(scope, name); err != nil {
		return eventstore.Cursor{}, err
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	cur, err := s.getCursorLocked(scope, name)
	if err != nil {
		return eventstore.Cursor{}, err
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
	if err := s.putCursorLocked(cur); err != nil {
		return eventstore.Cursor{}, err
	}
	return cur, nil
}

// DeleteCursor removes the cursor; absent cursors are a no-op.
func (s *Store) DeleteCursor(ctx context.Context, scope eventstore.Scope, name string) error {
	if err := validCursorKey(scope, name); err != nil {
		return err
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.db.Delete(keyCursor(scope, name))
}

// ListCursors returns all cursors, any scope.
func (s *Store) ListCursors(ctx context.Context) ([]eventstore.Cursor, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: cursorPrefix,
		UpperBound: upperBound(cursorPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []eventstore.Cursor
	for ok := iter.First(); ok; ok = iter.Next() {
		var cur eventstore.Cursor
		if err := json.Unmarshal(iter.Value(), &cur); err != nil {
			return nil, fmt.Errorf("pebblelog: corrupt cursor row %q: %w", iter.Key(), err)
		}
		out = append(out, cur)
	}
	return out, iter.Error()
}

func (s *Store) getCursorLocked(scope eventstore.Scope, name string) (eventstore.Cursor, error) {
	b, err := s.db.Get(keyCursor(scope, name))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return eventstore.Cursor{}, eventstore.ErrNotFound
	}
	if err != nil {
		return eventstore.Cursor{}, err
	}
	var cur eventstore.Cursor
	if err := json.Unmarshal(b, &cur); err != nil {
		return eventstore.Cursor{}, fmt.Errorf("pebblelog: corrupt cursor %s/%s: %w", scope, name, err)
	}
	return cur, nil
}

func (s *Store) putCursorLocked(cur eventstore.Cursor) error {
	b, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	return s.db.Set(keyCursor(cur.Scope, cur.Name), b)
}
