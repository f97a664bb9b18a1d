// Package realtime provides a Go client engine for Phoenix-style channel
// servers: one persistent websocket connection multiplexing many logical
// topics, with JSON envelopes carrying topic, event, payload, and ref.
//
// The primary lifecycle is:
//   - construct a Socket with NewSocket and chain configuration
//   - Connect to the endpoint URL
//   - obtain Channel handles with Channel and register listeners with On
//   - Subscribe (or Channel.Join) to send the join handshake
//   - run Listen for dispatch and KeepAlive for heartbeats, or let Run
//     supervise both
//   - Disconnect when finished
//
// Operations that speak on the wire require an active connection and return
// ErrNotConnected otherwise, before any frame is written. Listener callbacks
// execute on the receive path and should be written as thread-safe.
//
// Errors are reported as sentinel values (ErrConnectionFailed,
// ErrNotConnected, ErrConnectionClosed, ErrMalformedMessage) wrapped with
// call-site context; test for them with errors.Is.
//
// Integration tests are environment-gated and use REALTIME_TEST_URL.
package realtime
