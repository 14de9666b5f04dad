package eventstore

import "errors"

var (
	// ErrConcurrencyConflict is returned by Append when the expected stream
	// version does not match the current one.
	ErrConcurrencyConflict = errors.New("concurrency conflict: expected version mismatch")

	// ErrNotFound is returned for operations on a subscription cursor that
	// does not exist.
	ErrNotFound = errors.New("subscription not found")

	// ErrOutOfOrderAck is returned when an acknowledgment references a
	// position behind the stored cursor.
	ErrOutOfOrderAck = errors.New("out-of-order ack: position behind cursor")

	// ErrDeliveryStalled is reported when a subscription's paused-delivery
	// queue exceeds its bound because the consumer stopped acknowledging.
	ErrDeliveryStalled = errors.New("delivery stalled: pending queue limit exceeded")
)
