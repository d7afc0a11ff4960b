// Package h2 implements the client side of the HTTP/2 protocol: framing,
// HPACK header compression, flow control, stream multiplexing, and the
// surrounding connection pool, protocol negotiator and circuit breaker
// needed to dial and reuse HTTP/2 connections from a process that speaks
// fasthttp's request/response types.
package h2

import "log"

// ClientPreface is the 24-byte constant every HTTP/2 connection begins
// with (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// DefaultLogger is used for conditions with no waiting caller to report
// to: an idle pooled connection's read loop dying in the background, or
// the pool evicting/expiring a connection on its own schedule.
// Caller-facing failures are always returned as errors, never logged
// here, so embedders don't get a failure reported twice.
var DefaultLogger = log.Default()
