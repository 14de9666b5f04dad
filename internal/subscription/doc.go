// Package subscription implements catch-up plus live delivery of events.
//
// A subscription names a scope (one stream or all streams) and a durable
// cursor. The engine replays history from the cursor with a bounded-batch
// catch-up reader, then switches to live events broadcast by the feed,
// without gaps or duplicates across the transition. Delivery is in global
// position order, at least once; consumers acknowledge positions and the
// cursor only moves forward.
//
// Each active subscription runs one goroutine. A capacity limit bounds the
// number of delivered-but-unacknowledged events; past it the runtime queues
// internally and resumes in order as acks release entries. The internal
// queue is itself bounded; a consumer that stops acking long enough to
// overflow it fails the subscription with ErrDeliveryStalled rather than
// growing without bound.
package subscription
