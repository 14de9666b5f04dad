// Package httpserver exposes the events service over HTTP and SSE.
//
// Append, read, and cursor operations are plain JSON endpoints; subscribe
// is a Server-Sent Events stream that delivers catch-up and live events on
// one connection. Acks arrive on a companion POST endpoint so a consumer
// can read and acknowledge independently.
package httpserver
