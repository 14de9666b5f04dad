// Package pebblestore wraps a Pebble database with an explicit fsync policy
// and small helpers for atomic batches and copied reads.
//
// The wrapper exists so callers never touch pebble.WriteOptions directly:
// durability is chosen once at Open time (always, interval group-commit, or
// never) and every Set/Delete/CommitBatch respects it. The event log and the
// cursor store build their keyspaces on top of this wrapper.
package pebblestore
