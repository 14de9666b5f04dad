package subscription

import (
	"sync"

	"github.com/rzbill/strand/internal/eventstore"
)

// LiveFeed broadcasts freshly appended events to registered listeners.
//
// Publish and Subscribe are serialized by one mutex, so a listener
// registered before Publish(n) observes n, and every listener sees events
// in publish order. Listener callbacks run under the feed lock and must not
// block; subscription runtimes only move events onto an internal queue.
type LiveFeed struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]feedListener
}

type feedListener struct {
	scope eventstore.Scope
	fn    func(eventstore.Event)
}

// NewFeed returns an empty feed.
func NewFeed() *LiveFeed {
	return &LiveFeed{listeners: map[int]feedListener{}}
}

// Subscribe registers fn for events matching scope and returns a cancel
// function. Cancel is idempotent; after it returns fn is never called again.
func (f *LiveFeed) Subscribe(scope eventstore.Scope, fn func(eventstore.Event)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = feedListener{scope: scope, fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Publish fans events out to all matching listeners, in slice order.
func (f *LiveFeed) Publish(events []eventstore.Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		for _, l := range f.listeners {
			if l.scope.Matches(ev.Stream) {
				l.fn(ev)
			}
		}
	}
}
