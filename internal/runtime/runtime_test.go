package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/strand/internal/config"
	"github.com/rzbill/strand/internal/eventstore"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
)

func TestOpenPebbleBackend(t *testing.T) {
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfgpkg.Default(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	ctx := context.Background()
	if err := rt.CheckHealth(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	evs, err := rt.Events().Append(ctx, "s", eventstore.AnyVersion, []eventstore.EventData{{Type: "t"}})
	if err != nil || len(evs) != 1 {
		t.Fatalf("append through runtime: %v", err)
	}
	pos, err := rt.Events().LatestPosition(ctx)
	if err != nil || pos != 1 {
		t.Fatalf("latest position: %d %v", pos, err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendPostgres // no DSN
	if _, err := Open(Options{DataDir: t.TempDir(), Config: cfg}); err == nil {
		t.Fatalf("want config validation error")
	}
}
