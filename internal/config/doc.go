// Package config provides loading and environment overlay for strand
// runtime configuration. It exposes a Default() baseline, a JSON Load(), and
// a FromEnv overlay of STRAND_* variables.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/strand.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
