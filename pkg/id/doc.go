// Package id generates 128-bit, lexicographically sortable event
// identifiers.
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence],
// so byte-wise comparison preserves assignment order. The store stamps one
// onto every appended event for idempotency checks and log correlation.
//
// The Generator is safe for concurrent use and monotonic per process: a
// regressing system clock pins to the last seen millisecond, and sequence
// overflow within one millisecond waits for the next millisecond.
package id
