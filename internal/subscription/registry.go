package subscription

import (
	"context"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/pkg/log"
)

// Registry manages durable subscription cursors over a CursorStore.
type Registry struct {
	store  eventstore.CursorStore
	logger log.Logger
}

// NewRegistry wraps store with structured logging.
func NewRegistry(store eventstore.CursorStore, logger log.Logger) *Registry {
	return &Registry{store: store, logger: logger.With(log.Component("subscription.registry"))}
}

// Subscribe creates the cursor if absent, seeded at the supplied start, and
// locates it otherwise. Locating never resets recorded progress.
func (r *Registry) Subscribe(ctx context.Context, scope eventstore.Scope, name string, startPosition uint64, startVersion int64) (eventstore.Cursor, bool, error) {
	cur, created, err := r.store.EnsureCursor(ctx, scope, name, startPosition, startVersion)
	if err != nil {
		return eventstore.Cursor{}, false, err
	}
	if created {
		r.logger.Debug("subscription created",
			log.Str("scope", string(scope)), log.Str("name", name),
			log.Uint64("position", cur.Position))
	}
	return cur, created, nil
}

// Load returns the cursor, or eventstore.ErrNotFound.
func (r *Registry) Load(ctx context.Context, scope eventstore.Scope, name string) (eventstore.Cursor, error) {
	return r.store.LoadCursor(ctx, scope, name)
}

// Ack advances the cursor. Positions behind the cursor are rejected with
// eventstore.ErrOutOfOrderAck; an equal position is a no-op success.
func (r *Registry) Ack(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	cur, err := r.store.CommitCursor(ctx, scope, name, position, version)
	if err != nil {
		return eventstore.Cursor{}, err
	}
	r.logger.Debug("cursor committed",
		log.Str("scope", string(scope)), log.Str("name", name),
		log.Uint64("position", cur.Position))
	return cur, nil
}

// Unsubscribe deletes the durable cursor. Deleting an absent cursor is a
// no-op, so retries are safe.
func (r *Registry) Unsubscribe(ctx context.Context, scope eventstore.Scope, name string) error {
	if err := r.store.DeleteCursor(ctx, scope, name); err != nil {
		return err
	}
	r.logger.Debug("subscription removed",
		log.Str("scope", string(scope)), log.Str("name", name))
	return nil
}

// List returns all durable cursors.
func (r *Registry) List(ctx context.Context) ([]eventstore.Cursor, error) {
	return r.store.ListCursors(ctx)
}
