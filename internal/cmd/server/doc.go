// Package serverrun starts the strand server: it opens the runtime,
// builds the process logger, and serves HTTP until the context ends.
package serverrun
