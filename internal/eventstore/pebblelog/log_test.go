package pebblelog

import (
	"context"
	"errors"
	"testing"

	"github.com/rzbill/strand/internal/eventstore"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func appendN(t *testing.T, s *Store, stream string, n int) []eventstore.Event {
	t.Helper()
	data := make([]eventstore.EventData, n)
	for i := range data {
		data[i] = eventstore.EventData{Type: "test", Payload: []byte{byte('a' + i)}}
	}
	evs, err := s.Append(context.Background(), stream, eventstore.AnyVersion, data)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return evs
}

func TestAppendAssignsVersionsAndPositions(t *testing.T) {
	s := newTestStore(t)
	a := appendN(t, s, "cart-1", 2)
	b := appendN(t, s, "cart-2", 1)
	c := appendN(t, s, "cart-1", 1)

	if a[0].Version != 1 || a[1].Version != 2 || c[0].Version != 3 {
		t.Fatalf("versions not contiguous per stream: %d %d %d", a[0].Version, a[1].Version, c[0].Version)
	}
	if a[0].Position != 1 || a[1].Position != 2 || b[0].Position != 3 || c[0].Position != 4 {
		t.Fatalf("global positions not contiguous: %d %d %d %d",
			a[0].Position, a[1].Position, b[0].Position, c[0].Position)
	}
	if a[0].ID == "" || a[0].ID == a[1].ID {
		t.Fatalf("event ids not assigned uniquely")
	}
}

func TestAppendExpectedVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 0 means the stream must not exist
	if _, err := s.Append(ctx, "s", 0, []eventstore.EventData{{Type: "t"}}); err != nil {
		t.Fatalf("append new stream: %v", err)
	}
	if _, err := s.Append(ctx, "s", 0, []eventstore.EventData{{Type: "t"}}); !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("want ErrConcurrencyConflict for existing stream, got %v", err)
	}

	// exact match succeeds
	if _, err := s.Append(ctx, "s", 1, []eventstore.EventData{{Type: "t"}}); err != nil {
		t.Fatalf("append at exact version: %v", err)
	}
	// stale expectation fails
	if _, err := s.Append(ctx, "s", 1, []eventstore.EventData{{Type: "t"}}); !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("want ErrConcurrencyConflict for stale version, got %v", err)
	}
}

func TestReadStreamForward(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "a", 3)
	appendN(t, s, "b", 2)

	evs, err := s.ReadStream(context.Background(), "a", 2, 10)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(evs) != 2 || evs[0].Version != 2 || evs[1].Version != 3 {
		t.Fatalf("unexpected stream read: %+v", evs)
	}
	for _, ev := range evs {
		if ev.Stream != "a" {
			t.Fatalf("leaked event from stream %q", ev.Stream)
		}
	}

	empty, err := s.ReadStream(context.Background(), "a", 4, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("want empty read past head, got %v %v", empty, err)
	}
}

func TestReadAllForward(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "a", 2)
	appendN(t, s, "b", 2)

	evs, err := s.ReadAll(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(evs) != 2 || evs[0].Position != 2 || evs[1].Position != 3 {
		t.Fatalf("unexpected global read: %+v", evs)
	}
}

func TestLatestPositionEmpty(t *testing.T) {
	s := newTestStore(t)
	pos, err := s.LatestPosition(context.Background())
	if err != nil || pos != 0 {
		t.Fatalf("want 0 on empty log, got %d %v", pos, err)
	}
}

func TestListStreams(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "a", 2)
	appendN(t, s, "b", 1)

	infos, err := s.ListStreams(context.Background())
	if err != nil {
		t.Fatalf("list streams: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("want 2 streams, got %d", len(infos))
	}
	byName := map[string]int64{}
	for _, si := range infos {
		byName[si.Stream] = si.Version
	}
	if byName["a"] != 2 || byName["b"] != 1 {
		t.Fatalf("unexpected versions: %v", byName)
	}
}

func TestDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	appendN(t, s, "a", 2)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	s2, err := Open(db2)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	pos, _ := s2.LatestPosition(context.Background())
	if pos != 2 {
		t.Fatalf("latest position not restored: %d", pos)
	}
	evs := appendN(t, s2, "a", 1)
	if evs[0].Version != 3 || evs[0].Position != 3 {
		t.Fatalf("tail not restored: v=%d p=%d", evs[0].Version, evs[0].Position)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	in := eventstore.Event{
		ID: "0001", Stream: "s", Version: 7, Position: 42,
		Type: "order.placed", Payload: []byte("payload"), Metadata: []byte(`{"k":"v"}`),
		CreatedAtMs: 1700000000000,
	}
	rec, err := encodeRecord(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, ok := decodeRecord(42, rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if out.Stream != in.Stream || out.Version != in.Version || out.Position != 42 ||
		out.Type != in.Type || string(out.Payload) != "payload" || string(out.Metadata) != `{"k":"v"}` {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	// flip a payload bit: checksum must reject
	rec[len(rec)-6] ^= 0x01
	if _, ok := decodeRecord(42, rec); ok {
		t.Fatalf("corrupt record accepted")
	}
}
