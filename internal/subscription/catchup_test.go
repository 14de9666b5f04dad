package subscription

import (
	"context"
	"testing"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/eventstore/memorylog"
)

func seedLog(t *testing.T, store *memorylog.Store, stream string, n int) []eventstore.Event {
	t.Helper()
	data := make([]eventstore.EventData, n)
	for i := range data {
		data[i] = eventstore.EventData{Type: "test"}
	}
	evs, err := store.Append(context.Background(), stream, eventstore.AnyVersion, data)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return evs
}

func drainReader(t *testing.T, r *CatchUpReader) []eventstore.Event {
	t.Helper()
	var out []eventstore.Event
	for {
		ev, ok, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestCatchUpAllStreams(t *testing.T) {
	store := memorylog.New()
	seedLog(t, store, "a", 3)
	seedLog(t, store, "b", 2)

	r, err := NewCatchUpReader(context.Background(), store, eventstore.ScopeAll, 0, 0, 2)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	evs := drainReader(t, r)
	if len(evs) != 5 {
		t.Fatalf("want 5 events, got %d", len(evs))
	}
	for i, ev := range evs {
		if ev.Position != uint64(i+1) {
			t.Fatalf("out of order at %d: %d", i, ev.Position)
		}
	}
}

func TestCatchUpFromCursor(t *testing.T) {
	store := memorylog.New()
	seedLog(t, store, "a", 5)

	r, err := NewCatchUpReader(context.Background(), store, eventstore.ScopeAll, 2, 0, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	evs := drainReader(t, r)
	if len(evs) != 3 || evs[0].Position != 3 || evs[2].Position != 5 {
		t.Fatalf("unexpected replay: %+v", evs)
	}
}

func TestCatchUpHeadFixedAtConstruction(t *testing.T) {
	store := memorylog.New()
	seedLog(t, store, "a", 2)

	r, err := NewCatchUpReader(context.Background(), store, eventstore.ScopeAll, 0, 0, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if r.Head() != 2 {
		t.Fatalf("head: %d", r.Head())
	}
	seedLog(t, store, "a", 3) // appended after construction, out of replay range

	evs := drainReader(t, r)
	if len(evs) != 2 {
		t.Fatalf("replay crossed the captured head: %d events", len(evs))
	}
}

func TestCatchUpStreamScope(t *testing.T) {
	store := memorylog.New()
	seedLog(t, store, "a", 3)
	seedLog(t, store, "b", 2)

	r, err := NewCatchUpReader(context.Background(), store, "a", 1, 1, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	evs := drainReader(t, r)
	if len(evs) != 2 || evs[0].Version != 2 || evs[1].Version != 3 {
		t.Fatalf("unexpected stream replay: %+v", evs)
	}
	for _, ev := range evs {
		if ev.Stream != "a" {
			t.Fatalf("leaked stream %q", ev.Stream)
		}
	}
}

func TestCatchUpEmptyLog(t *testing.T) {
	store := memorylog.New()
	r, err := NewCatchUpReader(context.Background(), store, eventstore.ScopeAll, 0, 0, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if _, ok, err := r.Next(context.Background()); ok || err != nil {
		t.Fatalf("empty log should finish immediately: ok=%v err=%v", ok, err)
	}
}

func TestCatchUpCanceledContext(t *testing.T) {
	store := memorylog.New()
	seedLog(t, store, "a", 3)

	r, err := NewCatchUpReader(context.Background(), store, eventstore.ScopeAll, 0, 0, 1)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, ok, err := r.Next(ctx); !ok || err != nil {
		t.Fatalf("first next: ok=%v err=%v", ok, err)
	}
	cancel()
	if _, _, err := r.Next(ctx); err == nil {
		t.Fatalf("want context error after cancel")
	}
}
