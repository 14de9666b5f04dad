package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != BackendPebble {
		t.Fatalf("default backend should be pebble, got %q", cfg.Backend)
	}
	if cfg.Subscribe.Capacity != 64 {
		t.Fatalf("capacity default")
	}
	if cfg.Subscribe.CatchUpBatch != 256 {
		t.Fatalf("catch-up batch default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "strand.json")
	data := []byte(`{"backend":"postgres","postgresDSN":"postgres://localhost/strand?sslmode=disable","subscribe":{"capacity":8,"catchUpBatch":32,"queueLimit":100}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendPostgres {
		t.Fatalf("expected postgres backend")
	}
	if cfg.Subscribe.Capacity != 8 || cfg.Subscribe.CatchUpBatch != 32 || cfg.Subscribe.QueueLimit != 100 {
		t.Fatalf("subscribe overrides not applied: %+v", cfg.Subscribe)
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "strand.json")
	if err := os.WriteFile(file, []byte(`{"backend":"postgres"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("STRAND_BACKEND", "postgres")
	t.Setenv("STRAND_POSTGRES_DSN", "postgres://db/strand")
	t.Setenv("STRAND_SUB_CAPACITY", "16")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.Backend != BackendPostgres || cfg.PostgresDSN != "postgres://db/strand" {
		t.Fatalf("env overlay not applied: %+v", cfg)
	}
	if cfg.Subscribe.Capacity != 16 {
		t.Fatalf("capacity overlay not applied")
	}
}
