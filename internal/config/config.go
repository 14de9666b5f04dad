package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Backend selects the storage backend for the event log and cursors.
type Backend string

const (
	BackendPebble   Backend = "pebble"
	BackendPostgres Backend = "postgres"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Backend     Backend      `json:"backend"`
	PostgresDSN string       `json:"postgresDSN"`
	Subscribe   Subscription `json:"subscribe"`
}

// Subscription captures per-subscription delivery defaults. Zero values fall
// back to the engine's built-in defaults.
type Subscription struct {
	// Capacity is the number of delivered-but-unacknowledged events allowed
	// before delivery pauses.
	Capacity int `json:"capacity"`
	// CatchUpBatch is the bounded read size used while replaying history.
	CatchUpBatch int `json:"catchUpBatch"`
	// QueueLimit bounds the paused-delivery queue; past it the subscription
	// fails with a delivery-stalled error.
	QueueLimit int `json:"queueLimit"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Backend: BackendPebble,
		Subscribe: Subscription{
			Capacity:     64,
			CatchUpBatch: 256,
			QueueLimit:   8192,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendPebble, BackendPostgres, "":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("config: backend postgres requires postgresDSN")
	}
	return nil
}

// DefaultDataDir returns the default data directory based on the host OS.
// It prefers standard locations when available and falls back to a dotdir
// in the user's home directory.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "strand")
	}

	if isDir("/var/lib") {
		return "/var/lib/strand"
	}

	// macOS
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Strand")
	}

	// Windows
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Strand")
	}

	return filepath.Join(homeDir, ".strand")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
