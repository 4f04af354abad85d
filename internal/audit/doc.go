// Package audit carries login and account events to an operator-chosen sink.
//
// The [Dispatcher] decouples the request path from sink latency with one
// buffered channel and one goroutine. Sinks: no-op, channel, JSON lines and
// slog.
//
// # What this package must NOT do
//
//   - Decide which events exist. The Engine and flow functions name them.
//   - Receive passwords, TOTP codes or tokens in any field.
package audit
