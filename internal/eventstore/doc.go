// Package eventstore defines strand's storage contract: an append-only event
// log with per-stream versions and a global total order, plus durable cursor
// rows for named subscriptions.
//
// # Model
//
// Events are immutable. Within a stream, versions are contiguous starting at
// 1. Across streams, global positions are contiguous starting at 1 and
// assigned under serialization at append time. Appends carry an expected
// version for optimistic concurrency: AnyVersion skips the check, 0 requires
// a new stream, and a positive value must match the stream's current version
// exactly or the append fails with ErrConcurrencyConflict.
//
// Cursors are keyed by (scope, name), where scope is a stream id or ScopeAll.
// A cursor records the last acknowledged global position and, for
// single-stream scopes, the last acknowledged stream version. Commits never
// regress: an older position is rejected with ErrOutOfOrderAck.
//
// # Backends
//
// Three implementations of Store ship in subpackages:
//
//   - pebblelog: the primary embedded backend over Pebble
//   - memorylog: an in-memory backend for tests and embedding
//   - postgres: a relational backend over database/sql with a bounded
//     connection pool
package eventstore
