// Package pebblelog implements the eventstore.Store contract on Pebble.
//
// # Keyspace
//
// Keys are lexicographically ordered for efficient range scans:
//   - es/meta/pos                     (latest global position, be8)
//   - es/pos/{pos_be8}                (framed event records, global order)
//   - es/stream/{stream}/meta        (stream metadata: version, created-at)
//   - es/stream/{stream}/v/{ver_be8} (stream version -> global position)
//   - es/cursor/{scope}/{name}       (durable subscription cursors, JSON)
//
// Records are framed as: varint headerLen | header JSON | varint metaLen |
// metadata | payload | crc32c(header|metadata|payload). The header JSON
// carries the envelope (id, stream, version, type, created-at); payload and
// metadata stay opaque.
//
// Appends are serialized under a store-wide mutex: global positions and
// per-stream versions are assigned contiguously, the optimistic concurrency
// check runs against the cached stream version, and the whole append commits
// as one atomic batch.
package pebblelog
