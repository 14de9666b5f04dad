package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/pkg/log"
)

// ErrSubscriptionActive is returned by Subscribe when a runtime for the
// same (scope, name) pair is already attached.
var ErrSubscriptionActive = errors.New("subscription already active")

// DefaultCapacity bounds delivered-but-unacknowledged events per subscription.
const DefaultCapacity = 64

// DefaultQueueLimit bounds the internal pending queue per subscription.
const DefaultQueueLimit = 8192

// State is the lifecycle state of a subscription runtime.
type State int32

const (
	StateInitializing State = iota
	StateCatchingUp
	StateLive
	StateMaxCapacity
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateCatchingUp:
		return "catching_up"
	case StateLive:
		return "subscribed"
	case StateMaxCapacity:
		return "max_capacity"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// Defaults holds engine-wide fallbacks applied to zero-valued options.
type Defaults struct {
	Capacity     int
	CatchUpBatch int
	QueueLimit   int
}

// Options tunes a single Subscribe call. Zero values take engine defaults.
type Options struct {
	// Capacity bounds delivered-but-unacked events before the runtime
	// stops delivering and queues.
	Capacity int
	// CatchUpBatch is the replay read batch size.
	CatchUpBatch int
	// QueueLimit bounds the internal pending queue; overflowing it fails
	// the subscription with eventstore.ErrDeliveryStalled.
	QueueLimit int
	// Filter is an optional CEL expression; non-matching events are
	// skipped without consuming capacity.
	Filter string
	// StartPosition and StartVersion seed a cursor created by this call.
	// They are ignored when the cursor already exists.
	StartPosition uint64
	StartVersion  int64
}

type subKey struct {
	scope eventstore.Scope
	name  string
}

// Engine attaches subscription runtimes to a log, a live feed, and a
// cursor registry.
type Engine struct {
	log      eventstore.Log
	cursors  *Registry
	feed     *LiveFeed
	logger   log.Logger
	defaults Defaults

	mu     sync.Mutex
	active map[subKey]*Handle
}

// NewEngine wires an engine. Zero-valued defaults fall back to the package
// constants.
func NewEngine(elog eventstore.Log, cursors *Registry, feed *LiveFeed, logger log.Logger, defaults Defaults) *Engine {
	if defaults.Capacity <= 0 {
		defaults.Capacity = DefaultCapacity
	}
	if defaults.CatchUpBatch <= 0 {
		defaults.CatchUpBatch = DefaultCatchUpBatch
	}
	if defaults.QueueLimit <= 0 {
		defaults.QueueLimit = DefaultQueueLimit
	}
	return &Engine{
		log:      elog,
		cursors:  cursors,
		feed:     feed,
		logger:   logger.With(log.Component("subscription.engine")),
		defaults: defaults,
		active:   map[subKey]*Handle{},
	}
}

// Subscribe attaches a runtime for (scope, name), creating the durable
// cursor when absent, and starts catch-up then live delivery on the
// returned handle. ctx governs cursor setup and the catch-up phase; live
// delivery runs until the handle is closed, unsubscribed, or fails.
func (e *Engine) Subscribe(ctx context.Context, scope eventstore.Scope, name string, opts Options) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("subscription: empty name")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = e.defaults.Capacity
	}
	if opts.CatchUpBatch <= 0 {
		opts.CatchUpBatch = e.defaults.CatchUpBatch
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = e.defaults.QueueLimit
	}
	filter, err := NewFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("subscription: compile filter: %w", err)
	}

	key := subKey{scope: scope, name: name}
	e.mu.Lock()
	if _, ok := e.active[key]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", scope, name, ErrSubscriptionActive)
	}
	// Reserve the slot so concurrent Subscribe calls fail fast while we
	// finish setup outside the lock.
	e.active[key] = nil
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		if e.active[key] == nil {
			delete(e.active, key)
		}
		e.mu.Unlock()
	}

	cur, _, err := e.cursors.Subscribe(ctx, scope, name, opts.StartPosition, opts.StartVersion)
	if err != nil {
		release()
		return nil, err
	}

	h := &Handle{
		Scope:      scope,
		Name:       name,
		engine:     e,
		logger:     e.logger.With(log.Str("scope", string(scope)), log.Str("name", name)),
		filter:     filter,
		capacity:   opts.Capacity,
		batch:      opts.CatchUpBatch,
		queueLimit: opts.QueueLimit,
		startPos:   cur.Position,
		startVer:   cur.Version,
		out:        make(chan eventstore.Event, opts.Capacity),
		done:       make(chan struct{}),
		stalled:    make(chan struct{}),
		state:      StateInitializing,
		lastSeen:   cur.Position,
	}
	h.cond = sync.NewCond(&h.mu)

	// The feed listener must be live before the catch-up head is captured
	// so nothing can slip between replay and live delivery.
	h.cancelFeed = e.feed.Subscribe(scope, h.enqueue)

	e.mu.Lock()
	e.active[key] = h
	e.mu.Unlock()

	h.logger.Debug("subscription attached", log.Uint64("cursor", cur.Position))
	go h.run(ctx)
	return h, nil
}

// Ack advances the durable cursor for (scope, name) and, when a runtime is
// attached, releases its in-flight entries at or below position.
func (e *Engine) Ack(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	e.mu.Lock()
	h := e.active[subKey{scope: scope, name: name}]
	e.mu.Unlock()
	if h != nil {
		return h.Ack(ctx, position, version)
	}
	return e.cursors.Ack(ctx, scope, name, position, version)
}

// Unsubscribe detaches any active runtime and deletes the durable cursor.
// Idempotent; a later Subscribe starts a fresh cursor.
func (e *Engine) Unsubscribe(ctx context.Context, scope eventstore.Scope, name string) error {
	e.mu.Lock()
	h := e.active[subKey{scope: scope, name: name}]
	e.mu.Unlock()
	if h != nil {
		h.terminate(nil)
	}
	return e.cursors.Unsubscribe(ctx, scope, name)
}

// List returns all durable cursors.
func (e *Engine) List(ctx context.Context) ([]eventstore.Cursor, error) {
	return e.cursors.List(ctx)
}

func (e *Engine) detach(h *Handle) {
	key := subKey{scope: h.Scope, name: h.Name}
	e.mu.Lock()
	if e.active[key] == h {
		delete(e.active, key)
	}
	e.mu.Unlock()
}

// Handle is the consumer side of one active subscription.
type Handle struct {
	Scope eventstore.Scope
	Name  string

	engine     *Engine
	logger     log.Logger
	filter     Filter
	capacity   int
	batch      int
	queueLimit int
	startPos   uint64
	startVer   int64

	out     chan eventstore.Event
	done    chan struct{} // closed on terminate
	stalled chan struct{} // closed when the pending queue overflows

	cancelFeed func()
	closeOnce  sync.Once
	stallOnce  sync.Once

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	pending  []eventstore.Event
	inFlight []uint64 // positions delivered but unacked, ascending
	lastSeen uint64   // highest position observed, replay or live
	failErr  error
	closed   bool
}

// Events is the delivery channel. It is closed when the subscription
// detaches; check Err afterwards to distinguish failure from Close.
func (h *Handle) Events() <-chan eventstore.Event { return h.out }

// State reports the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure that detached the runtime, nil after a plain
// Close or Unsubscribe.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failErr
}

// Ack commits the cursor and releases in-flight entries at or below
// position, letting queued delivery resume. A single ack may release a
// whole batch of consecutive deliveries.
func (h *Handle) Ack(ctx context.Context, position uint64, version int64) (eventstore.Cursor, error) {
	cur, err := h.engine.cursors.Ack(ctx, h.Scope, h.Name, position, version)
	if err != nil {
		return eventstore.Cursor{}, err
	}
	h.mu.Lock()
	i := 0
	for i < len(h.inFlight) && h.inFlight[i] <= position {
		i++
	}
	if i > 0 {
		h.inFlight = append(h.inFlight[:0], h.inFlight[i:]...)
		h.cond.Broadcast()
	}
	h.mu.Unlock()
	return cur, nil
}

// Close detaches the runtime and closes the delivery channel. The durable
// cursor stays at the last acknowledged position, so a later Subscribe
// resumes from there.
func (h *Handle) Close() { h.terminate(nil) }

func (h *Handle) terminate(err error) {
	h.closeOnce.Do(func() {
		h.cancelFeed()
		h.mu.Lock()
		h.closed = true
		if err != nil && h.failErr == nil {
			h.failErr = err
		}
		h.state = StateUnsubscribed
		h.cond.Broadcast()
		h.mu.Unlock()
		close(h.done)
		h.engine.detach(h)
		if err != nil {
			h.logger.Warn("subscription failed", log.Err(err))
		} else {
			h.logger.Debug("subscription detached")
		}
	})
}

// enqueue is the feed listener. It runs under the feed lock and must stay
// non-blocking, so overflow only flags the stall; the run loop tears down.
func (h *Handle) enqueue(ev eventstore.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.failErr != nil {
		return
	}
	if ev.Position <= h.lastSeen {
		// Replay or an earlier delivery already covered this position; a
		// publish can lag the committed append it broadcasts.
		return
	}
	if len(h.pending) >= h.queueLimit {
		h.failErr = fmt.Errorf("pending queue exceeded %d entries: %w",
			h.queueLimit, eventstore.ErrDeliveryStalled)
		h.cond.Broadcast()
		h.stallOnce.Do(func() { close(h.stalled) })
		return
	}
	h.pending = append(h.pending, ev)
	h.cond.Broadcast()
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.out)

	if err := h.catchUp(ctx); err != nil {
		h.terminate(err)
		return
	}

	for {
		h.mu.Lock()
		for len(h.pending) == 0 && !h.closed && h.failErr == nil {
			h.cond.Wait()
		}
		if h.closed || h.failErr != nil {
			err := h.failErr
			h.mu.Unlock()
			h.terminate(err)
			return
		}
		ev := h.pending[0]
		h.pending = h.pending[1:]
		if ev.Position <= h.lastSeen {
			h.mu.Unlock()
			continue
		}
		h.lastSeen = ev.Position
		h.mu.Unlock()

		if !h.deliver(ev, StateLive) {
			h.mu.Lock()
			err := h.failErr
			h.mu.Unlock()
			h.terminate(err)
			return
		}
	}
}

func (h *Handle) catchUp(ctx context.Context) error {
	h.setState(StateCatchingUp)
	reader, err := NewCatchUpReader(ctx, h.engine.log, h.Scope, h.startPos, h.startVer, h.batch)
	if err != nil {
		return err
	}

	for {
		ev, ok, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		h.mu.Lock()
		h.lastSeen = ev.Position
		h.mu.Unlock()
		if !h.deliver(ev, StateCatchingUp) {
			h.mu.Lock()
			err := h.failErr
			h.mu.Unlock()
			if err != nil {
				return err
			}
			return nil // closed; run loop exits on the closed flag
		}
	}

	// Live events that raced the replay are already queued; drop the ones
	// the reader has delivered so the transition has no duplicates.
	h.mu.Lock()
	i := 0
	for i < len(h.pending) && h.pending[i].Position <= h.lastSeen {
		i++
	}
	if i > 0 {
		h.pending = append(h.pending[:0], h.pending[i:]...)
	}
	h.mu.Unlock()

	h.setState(StateLive)
	h.logger.Debug("catch-up complete",
		log.Uint64("head", reader.Head()), log.Uint64("from", h.startPos))
	return nil
}

// deliver blocks while the capacity limit is reached, then sends ev on the
// delivery channel. It returns false when the runtime is shutting down.
func (h *Handle) deliver(ev eventstore.Event, resume State) bool {
	if !h.filter.Eval(ev) {
		return true
	}
	h.mu.Lock()
	for len(h.inFlight) >= h.capacity && !h.closed && h.failErr == nil {
		h.state = StateMaxCapacity
		h.cond.Wait()
	}
	if h.closed || h.failErr != nil {
		h.mu.Unlock()
		return false
	}
	h.state = resume
	h.inFlight = append(h.inFlight, ev.Position)
	h.mu.Unlock()

	select {
	case h.out <- ev:
		return true
	case <-h.done:
		return false
	case <-h.stalled:
		return false
	}
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	if !h.closed {
		h.state = s
	}
	h.mu.Unlock()
}
