// Package eventsvc ties the event store, the live feed, and the
// subscription engine into one service surface used by transports.
package eventsvc

import (
	"context"
	"sync"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/subscription"
	"github.com/rzbill/strand/pkg/log"
)

// Service is the façade over append, read, and subscribe operations.
type Service struct {
	store    eventstore.Store
	feed     *subscription.LiveFeed
	registry *subscription.Registry
	engine   *subscription.Engine
	logger   log.Logger

	// appendMu orders the append-then-publish pair so the feed observes
	// events in global position order.
	appendMu sync.Mutex
}

// New builds a service over store with the given engine defaults.
func New(store eventstore.Store, logger log.Logger, defaults subscription.Defaults) *Service {
	feed := subscription.NewFeed()
	registry := subscription.NewRegistry(store, logger)
	return &Service{
		store:    store,
		feed:     feed,
		registry: registry,
		engine:   subscription.NewEngine(store, registry, feed, logger, defaults),
		logger:   logger.With(log.Component("events.service")),
	}
}

// Append appends events to stream and publishes them to live subscribers.
func (s *Service) Append(ctx context.Context, stream string, expectedVersion int64, events []eventstore.EventData) ([]eventstore.Event, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	out, err := s.store.Append(ctx, stream, expectedVersion, events)
	if err != nil {
		return nil, err
	}
	s.feed.Publish(out)
	if len(out) > 0 {
		s.logger.Debug("events appended",
			log.Str("stream", stream), log.Int("count", len(out)),
			log.Uint64("position", out[len(out)-1].Position))
	}
	return out, nil
}

// ReadStream reads one stream forward from fromVersion (inclusive).
func (s *Service) ReadStream(ctx context.Context, stream string, fromVersion int64, limit int) ([]eventstore.Event, error) {
	return s.store.ReadStream(ctx, stream, fromVersion, limit)
}

// ReadAll reads the global log forward from fromPosition (inclusive).
func (s *Service) ReadAll(ctx context.Context, fromPosition uint64, limit int) ([]eventstore.Event, error) {
	return s.store.ReadAll(ctx, fromPosition, limit)
}

// LatestPosition returns the global head position, 0 when empty.
func (s *Service) LatestPosition(ctx context.Context) (uint64, error) {
	return s.store.LatestPosition(ctx)
}

// ListStreams returns all known streams.
func (s *Service) ListStreams(ctx context.Context) ([]eventstore.StreamInfo, error) {
	return s.store.ListStreams(ctx)
}

// Subscribe attaches a live subscription for (scope, name).
func (s *Service) Subscribe(ctx context.Context, scope eventstore.Scope, name string, opts subscription.Options) (*subscription.Handle, error) {
	return s.engine.Subscribe(ctx, scope, name, opts)
}

// Ack advances the cursor for (scope, name); it works with or without an
// attached runtime.
func (s *Service) Ack(ctx context.Context, scope eventstore.Scope, name string, position uint64, version int64) (eventstore.Cursor, error) {
	return s.engine.Ack(ctx, scope, name, position, version)
}

// Unsubscribe detaches any runtime and deletes the durable cursor.
func (s *Service) Unsubscribe(ctx context.Context, scope eventstore.Scope, name string) error {
	return s.engine.Unsubscribe(ctx, scope, name)
}

// ListSubscriptions returns all durable cursors.
func (s *Service) ListSubscriptions(ctx context.Context) ([]eventstore.Cursor, error) {
	return s.engine.List(ctx)
}

// StreamStats describes one stream and the subscriptions consuming it.
type StreamStats struct {
	Stream        string            `json:"stream"`
	Version       int64             `json:"version"`
	HeadPosition  uint64            `json:"head_position"`
	Subscriptions []SubscriptionLag `json:"subscriptions"`
}

// SubscriptionLag is a cursor's distance behind the global head.
type SubscriptionLag struct {
	Scope    string `json:"scope"`
	Name     string `json:"name"`
	Position uint64 `json:"position"`
	Lag      uint64 `json:"lag"`
}

// StreamStats reports the stream's version, the global head, and the lag of
// every cursor whose scope covers the stream.
func (s *Service) StreamStats(ctx context.Context, stream string) (StreamStats, error) {
	infos, err := s.store.ListStreams(ctx)
	if err != nil {
		return StreamStats{}, err
	}
	var version int64
	for _, si := range infos {
		if si.Stream == stream {
			version = si.Version
			break
		}
	}
	head, err := s.store.LatestPosition(ctx)
	if err != nil {
		return StreamStats{}, err
	}
	stats := StreamStats{Stream: stream, Version: version, HeadPosition: head}

	cursors, err := s.engine.List(ctx)
	if err != nil {
		return StreamStats{}, err
	}
	for _, cur := range cursors {
		if !cur.Scope.Matches(stream) {
			continue
		}
		lag := uint64(0)
		if head > cur.Position {
			lag = head - cur.Position
		}
		stats.Subscriptions = append(stats.Subscriptions, SubscriptionLag{
			Scope:    string(cur.Scope),
			Name:     cur.Name,
			Position: cur.Position,
			Lag:      lag,
		})
	}
	return stats, nil
}
