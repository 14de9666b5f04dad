package subscription

import (
	"context"

	"github.com/rzbill/strand/internal/eventstore"
)

// DefaultCatchUpBatch is the read batch size used when none is configured.
const DefaultCatchUpBatch = 256

// CatchUpReader replays history from a cursor up to a fixed head.
//
// The head is the log's latest position captured at construction; events
// appended afterwards are the live feed's problem. Reads are issued in
// bounded batches, so a long backlog never materializes in memory at once.
// The reader is not restartable; construct a new one to re-read.
type CatchUpReader struct {
	log   eventstore.Log
	scope eventstore.Scope
	head  uint64
	batch int

	nextPos uint64 // next global position to read (ScopeAll)
	nextVer int64  // next stream version to read (single stream)
	buf     []eventstore.Event
	done    bool
}

// NewCatchUpReader captures the current head and positions the reader just
// past the given cursor (position for ScopeAll, version for a stream scope).
func NewCatchUpReader(ctx context.Context, log eventstore.Log, scope eventstore.Scope, afterPosition uint64, afterVersion int64, batch int) (*CatchUpReader, error) {
	head, err := log.LatestPosition(ctx)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = DefaultCatchUpBatch
	}
	r := &CatchUpReader{
		log:     log,
		scope:   scope,
		head:    head,
		batch:   batch,
		nextPos: afterPosition + 1,
		nextVer: afterVersion + 1,
	}
	if afterPosition >= head {
		r.done = true
	}
	return r, nil
}

// Head returns the position captured at construction.
func (r *CatchUpReader) Head() uint64 { return r.head }

// Next returns the next event, or ok=false once the head is reached.
func (r *CatchUpReader) Next(ctx context.Context) (eventstore.Event, bool, error) {
	for {
		if r.done {
			return eventstore.Event{}, false, nil
		}
		if len(r.buf) > 0 {
			ev := r.buf[0]
			r.buf = r.buf[1:]
			if ev.Position > r.head {
				r.done = true
				return eventstore.Event{}, false, nil
			}
			if ev.Position == r.head {
				r.done = true
			}
			return ev, true, nil
		}
		if err := ctx.Err(); err != nil {
			return eventstore.Event{}, false, err
		}
		if err := r.fill(ctx); err != nil {
			return eventstore.Event{}, false, err
		}
		if len(r.buf) == 0 {
			r.done = true
			return eventstore.Event{}, false, nil
		}
	}
}

func (r *CatchUpReader) fill(ctx context.Context) error {
	if r.scope.IsAll() {
		evs, err := r.log.ReadAll(ctx, r.nextPos, r.batch)
		if err != nil {
			return err
		}
		r.buf = evs
		if len(evs) > 0 {
			r.nextPos = evs[len(evs)-1].Position + 1
		}
		return nil
	}
	evs, err := r.log.ReadStream(ctx, string(r.scope), r.nextVer, r.batch)
	if err != nil {
		return err
	}
	r.buf = evs
	if len(evs) > 0 {
		r.nextVer = evs[len(evs)-1].Version + 1
	}
	return nil
}
