package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn. Tests inject inbound frames and inspect
// recorded sends; closing it from either side unblocks Receive.
type fakeConn struct {
	lock      sync.Mutex
	sent      []Message
	inbox     chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 64)}
}

func (conn *fakeConn) Send(msg Message) error {
	if conn.closed.Load() {
		return fmt.Errorf("%w: fake conn", ErrConnectionClosed)
	}
	conn.lock.Lock()
	conn.sent = append(conn.sent, msg)
	conn.lock.Unlock()
	return nil
}

func (conn *fakeConn) Receive() (Message, []byte, error) {
	raw, ok := <-conn.inbox
	if !ok {
		return Message{}, nil, fmt.Errorf("%w: fake conn", ErrConnectionClosed)
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		return Message{}, raw, err
	}
	return msg, raw, nil
}

func (conn *fakeConn) Close() error {
	conn.closeOnce.Do(func() {
		conn.closed.Store(true)
		close(conn.inbox)
	})
	return nil
}

func (conn *fakeConn) IsOpen() bool { return !conn.closed.Load() }

func (conn *fakeConn) inject(t *testing.T, msg Message) {
	t.Helper()
	raw, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode inject frame: %v", err)
	}
	conn.inbox <- raw
}

func (conn *fakeConn) injectRaw(raw []byte) {
	conn.inbox <- append([]byte(nil), raw...)
}

func (conn *fakeConn) sentMessages() []Message {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	out := make([]Message, len(conn.sent))
	copy(out, conn.sent)
	return out
}

func (conn *fakeConn) sentCount(event string) int {
	count := 0
	for _, msg := range conn.sentMessages() {
		if msg.Event == event {
			count++
		}
	}
	return count
}

// fakeTransport hands out queued fakeConns, creating fresh ones when the
// queue runs dry, and counts Open calls.
type fakeTransport struct {
	lock     sync.Mutex
	queued   []*fakeConn
	created  []*fakeConn
	opened   int
	failNext int
}

func newFakeTransport(conns ...*fakeConn) *fakeTransport {
	return &fakeTransport{queued: conns}
}

func (transport *fakeTransport) Open(ctx context.Context, url string) (Conn, error) {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	transport.opened++
	if transport.failNext > 0 {
		transport.failNext--
		return nil, fmt.Errorf("%w: fake transport refused %s", ErrConnectionFailed, url)
	}
	var conn *fakeConn
	if len(transport.queued) > 0 {
		conn = transport.queued[0]
		transport.queued = transport.queued[1:]
	} else {
		conn = newFakeConn()
	}
	transport.created = append(transport.created, conn)
	return conn, nil
}

func (transport *fakeTransport) openCount() int {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	return transport.opened
}

func (transport *fakeTransport) connAt(index int) *fakeConn {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	if index < 0 || index >= len(transport.created) {
		return nil
	}
	return transport.created[index]
}

func (transport *fakeTransport) setFailNext(count int) {
	transport.lock.Lock()
	transport.failNext = count
	transport.lock.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSocket(transport Transport) *Socket {
	return NewSocket("ws://localhost:4000/socket/websocket").
		SetTransport(transport).
		SetLogger(quietLogger())
}

func connectTestSocket(t *testing.T, conns ...*fakeConn) (*Socket, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport(conns...)
	socket := newTestSocket(transport)
	if err := socket.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return socket, transport
}

func waitUntil(t *testing.T, timeout time.Duration, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
