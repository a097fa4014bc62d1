// Package audit relays authentication lifecycle events to a sink without
// putting the sink on the request path.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full behaviour.
//   - [Event]: timestamp, type, user, record, client and outcome.
//
// # Architecture boundaries
//
// The package decides nothing about which events exist; the manager emits
// them. It must not import the root cookieauth package.
package audit
