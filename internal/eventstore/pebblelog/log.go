package pebblelog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rzbill/strand/internal/eventstore"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
	"github.com/rzbill/strand/pkg/id"
)

// streamMeta is the per-stream metadata row.
type streamMeta struct {
	Version     int64 `json:"version"`
	CreatedAtMs int64 `json:"created_at_ms"`
}

// Store implements eventstore.Store on a Pebble database. The caller owns
// the DB lifecycle; Close is a no-op.
type Store struct {
	db  *pebblestore.DB
	gen *id.Generator

	// mu serializes appends and guards the cached tail state.
	mu      sync.Mutex
	lastPos uint64
	streams map[string]streamMeta

	// cursorMu guards ensure/commit read-modify-write cycles.
	cursorMu sync.Mutex
}

var _ eventstore.Store = (*Store)(nil)

// Open initializes a Store and loads the latest global position.
func Open(db *pebblestore.DB) (*Store, error) {
	s := &Store{db: db, gen: id.NewGenerator(), streams: map[string]streamMeta{}}
	b, err := db.Get(keyLatestPos)
	switch {
	case err == nil && len(b) >= 8:
		s.lastPos = binary.BigEndian.Uint64(b[:8])
	case errors.Is(err, pebblestore.ErrNotFound):
	case err != nil:
		return nil, err
	}
	return s, nil
}

// Close implements eventstore.Store; the underlying DB is owned by the caller.
func (s *Store) Close() error { return nil }

func validStream(stream string) error {
	if stream == "" {
		return errors.New("pebblelog: empty stream id")
	}
	if strings.ContainsRune(stream, '/') {
		return fmt.Errorf("pebblelog: stream id %q contains '/'", stream)
	}
	return nil
}

// Append appends events atomically, assigning contiguous versions and global
// positions.
func (s *Store) Append(ctx context.Context, stream string, expectedVersion int64, events []eventstore.EventData) ([]eventstore.Event, error) {
	if err := validStream(stream); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists, err := s.loadStreamMetaLocked(stream)
	if err != nil {
		return nil, err
	}
	if expectedVersion != eventstore.AnyVersion && expectedVersion != meta.Version {
		return nil, fmt.Errorf("stream %q at version %d, expected %d: %w",
			stream, meta.Version, expectedVersion, eventstore.ErrConcurrencyConflict)
	}
	if !exists {
		meta.CreatedAtMs = time.Now().UnixMilli()
	}

	b := s.db.NewBatch()
	defer b.Close()

	nowMs := time.Now().UnixMilli()
	out := make([]eventstore.Event, len(events))
	pos := s.lastPos
	ver := meta.Version
	for i, ed := range events {
		pos++
		ver++
		ev := eventstore.Event{
			ID:          s.gen.Next().String(),
			Stream:      stream,
			Version:     ver,
			Position:    pos,
			Type:        ed.Type,
			Payload:     ed.Payload,
			Metadata:    ed.Metadata,
			CreatedAtMs: nowMs,
		}
		rec, err := encodeRecord(ev)
		if err != nil {
			return nil, err
		}
		if err := b.Set(keyPos(pos), rec, nil); err != nil {
			return nil, err
		}
		var posb [8]byte
		binary.BigEndian.PutUint64(posb[:], pos)
		if err := b.Set(keyStreamVersion(stream, ver), posb[:], nil); err != nil {
			return nil, err
		}
		out[i] = ev
	}

	meta.Version = ver
	mb, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := b.Set(keyStreamMeta(stream), mb, nil); err != nil {
		return nil, err
	}
	var posb [8]byte
	binary.BigEndian.PutUint64(posb[:], pos)
	if err := b.Set(keyLatestPos, posb[:], nil); err != nil {
		return nil, err
	}

	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	s.lastPos = pos
	s.streams[stream] = meta
	return out, nil
}

// loadStreamMetaLocked returns the stream metadata, consulting the cache
// first. Caller holds s.mu.
func (s *Store) loadStreamMetaLocked(stream string) (streamMeta, bool, error) {
	if m, ok := s.streams[stream]; ok {
		return m, true, nil
	}
	b, err := s.db.Get(keyStreamMeta(stream))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return streamMeta{}, false, nil
	}
	if err != nil {
		return streamMeta{}, false, err
	}
	var m streamMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return streamMeta{}, false, fmt.Errorf("pebblelog: corrupt stream meta for %q: %w", stream, err)
	}
	s.streams[stream] = m
	return m, true, nil
}

// LatestPosition returns the current maximum global position, 0 if empty.
func (s *Store) LatestPosition(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPos, nil
}
