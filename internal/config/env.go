package config

import (
	"os"
	"strconv"
)

// FromEnv overlays STRAND_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("STRAND_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("STRAND_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("STRAND_SUB_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Subscribe.Capacity = n
		}
	}
	if v := os.Getenv("STRAND_SUB_CATCHUP_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Subscribe.CatchUpBatch = n
		}
	}
	if v := os.Getenv("STRAND_SUB_QUEUE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Subscribe.QueueLimit = n
		}
	}
}
