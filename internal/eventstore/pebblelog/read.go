package pebblelog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/strand/internal/eventstore"
)

// ReadAll reads forward by global position from fromPosition (inclusive).
func (s *Store) ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]eventstore.Event, error) {
	if fromPosition == 0 {
		fromPosition = 1
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPos(fromPosition),
		UpperBound: upperBound(posPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []eventstore.Event
	for ok := iter.First(); ok && (limit <= 0 || len(out) < limit); ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := binary.BigEndian.Uint64(iter.Key()[len(posPrefix):])
		ev, ok := decodeRecord(pos, iter.Value())
		if !ok {
			return nil, fmt.Errorf("pebblelog: corrupt record at position %d", pos)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

// ReadStream reads forward from fromVersion (inclusive) within one stream.
func (s *Store) ReadStream(ctx context.Context, stream string, fromVersion int64, limit int) ([]eventstore.Event, error) {
	if err := validStream(stream); err != nil {
		return nil, err
	}
	if fromVersion <= 0 {
		fromVersion = 1
	}
	lo := keyStreamVersion(stream, fromVersion)
	hi := upperBound(lo[:len(lo)-8])
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []eventstore.Event
	for ok := iter.First(); ok && (limit <= 0 || len(out) < limit); ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(iter.Value()) < 8 {
			return nil, fmt.Errorf("pebblelog: corrupt stream index for %q", stream)
		}
		pos := binary.BigEndian.Uint64(iter.Value()[:8])
		rec, err := s.db.Get(keyPos(pos))
		if err != nil {
			return nil, fmt.Errorf("pebblelog: missing record at position %d: %w", pos, err)
		}
		ev, ok := decodeRecord(pos, rec)
		if !ok {
			return nil, fmt.Errorf("pebblelog: corrupt record at position %d", pos)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

// ListStreams returns all known streams from their metadata rows.
func (s *Store) ListStreams(ctx context.Context) ([]eventstore.StreamInfo, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: streamPrefix,
		UpperBound: upperBound(streamPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []eventstore.StreamInfo
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		rest := k[len(streamPrefix):]
		if !bytes.HasSuffix(rest, metaSuffix) {
			continue
		}
		name := string(rest[:len(rest)-len(metaSuffix)])
		var m streamMeta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("pebblelog: corrupt stream meta for %q: %w", name, err)
		}
		out = append(out, eventstore.StreamInfo{Stream: name, Version: m.Version, CreatedAtMs: m.CreatedAtMs})
	}
	return out, iter.Error()
}
