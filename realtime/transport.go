package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Transport establishes connections to the endpoint. The default is
// WebsocketTransport; tests substitute in-memory implementations.
type Transport interface {
	Open(ctx context.Context, url string) (Conn, error)
}

// Conn is one established connection carrying envelope frames. A Socket is
// the only writer and its receive loop the only reader.
type Conn interface {
	// Send writes one envelope. Sending on a closed connection returns
	// ErrConnectionClosed.
	Send(msg Message) error
	// Receive blocks until the next inbound frame arrives. It returns
	// ErrConnectionClosed when the connection is torn down, and
	// ErrMalformedMessage together with the raw frame when a delivered
	// frame does not decode.
	Receive() (Message, []byte, error)
	Close() error
	IsOpen() bool
}

// WebsocketTransport opens websocket connections with gorilla/websocket.
type WebsocketTransport struct {
	// Dialer overrides websocket.DefaultDialer when set.
	Dialer *websocket.Dialer
	// Header is sent with the handshake request, for endpoints expecting
	// headers alongside URL parameters.
	Header http.Header
}

// Open dials url and performs the websocket handshake.
func (transport *WebsocketTransport) Open(ctx context.Context, url string) (Conn, error) {
	dialer := transport.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	wsConn, _, err := dialer.DialContext(ctx, url, transport.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, url, err)
	}
	return &websocketConn{conn: wsConn}, nil
}

// websocketConn serializes writers: gorilla permits one concurrent writer,
// and the heartbeat loop sends independently of callers.
type websocketConn struct {
	writeLock sync.Mutex
	conn      *websocket.Conn
	closed    atomic.Bool
}

func (conn *websocketConn) Send(msg Message) error {
	if conn.closed.Load() {
		return fmt.Errorf("%w: send %s to %q", ErrConnectionClosed, msg.Event, msg.Topic)
	}
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	if err := conn.conn.WriteJSON(msg); err != nil {
		conn.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (conn *websocketConn) Receive() (Message, []byte, error) {
	if conn.closed.Load() {
		return Message{}, nil, ErrConnectionClosed
	}
	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		conn.closed.Store(true)
		return Message{}, nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	msg, err := ParseMessage(data)
	if err != nil {
		return Message{}, data, err
	}
	return msg, data, nil
}

func (conn *websocketConn) Close() error {
	if conn.closed.Swap(true) {
		return nil
	}
	return conn.conn.Close()
}

func (conn *websocketConn) IsOpen() bool { return !conn.closed.Load() }
