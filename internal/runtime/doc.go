// Package runtime wires storage, configuration, and the events service for
// a single-node instance. Transports and the CLI only ever hold a Runtime.
package runtime
