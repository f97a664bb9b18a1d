package realtime

import "errors"

// Sentinel errors returned by Socket, Channel, and Conn operations. Call
// sites wrap them with context; callers test with errors.Is.
var (
	// ErrConnectionFailed reports that dialing or the websocket handshake
	// failed before a connection was established.
	ErrConnectionFailed = errors.New("realtime: connection failed")

	// ErrAlreadyConnected reports a Connect call on a socket that already
	// holds an open connection.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrNotConnected reports an operation that requires an established
	// connection. It is returned before anything is written to the wire.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrConnectionClosed reports that the transport closed underneath an
	// operation that was using it.
	ErrConnectionClosed = errors.New("realtime: connection closed")

	// ErrMalformedMessage reports an inbound frame that could not be decoded
	// into a Message. The receive loop drops such frames and keeps reading.
	ErrMalformedMessage = errors.New("realtime: malformed message")

	// ErrReconnectGaveUp is returned by a ReconnectDelayStrategy once its
	// retry allowance for a URL is exhausted.
	ErrReconnectGaveUp = errors.New("realtime: reconnect retries exhausted")
)
