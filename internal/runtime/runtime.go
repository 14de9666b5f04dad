package runtime

import (
	"context"
	"fmt"
	"time"

	cfgpkg "github.com/rzbill/strand/internal/config"
	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/eventstore/pebblelog"
	"github.com/rzbill/strand/internal/eventstore/postgres"
	eventsvc "github.com/rzbill/strand/internal/services/events"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
	"github.com/rzbill/strand/internal/subscription"
	"github.com/rzbill/strand/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	// DataDir holds the Pebble data; ignored for the postgres backend.
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
}

// Runtime owns the backend store and the events service built over it.
type Runtime struct {
	db     *pebblestore.DB // nil for the postgres backend
	store  eventstore.Store
	events *eventsvc.Service
	config cfgpkg.Config
	logger log.Logger
}

// Open initializes the configured backend and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	rt := &Runtime{config: opts.Config, logger: logger}
	switch opts.Config.Backend {
	case cfgpkg.BackendPostgres:
		store, err := postgres.Open(opts.Config.PostgresDSN, postgres.Options{})
		if err != nil {
			return nil, err
		}
		if err := store.InitSchema(context.Background()); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("runtime: init schema: %w", err)
		}
		rt.store = store
	case cfgpkg.BackendPebble, "":
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir:       opts.DataDir,
			Fsync:         opts.Fsync,
			FsyncInterval: opts.FsyncInterval,
		})
		if err != nil {
			return nil, err
		}
		store, err := pebblelog.Open(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.db = db
		rt.store = store
	default:
		return nil, fmt.Errorf("runtime: unknown backend %q", opts.Config.Backend)
	}

	rt.events = eventsvc.New(rt.store, logger, subscription.Defaults{
		Capacity:     opts.Config.Subscribe.Capacity,
		CatchUpBatch: opts.Config.Subscribe.CatchUpBatch,
		QueueLimit:   opts.Config.Subscribe.QueueLimit,
	})
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// CheckHealth verifies the backend answers a read.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("runtime: store not open")
	}
	_, err := r.store.LatestPosition(ctx)
	return err
}

// Events returns the events service facade.
func (r *Runtime) Events() *eventsvc.Service { return r.events }

// Store exposes the backend store (internal use only).
func (r *Runtime) Store() eventstore.Store { return r.store }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
