package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultHeartbeatInterval is the delay between heartbeat frames when the
// socket is not configured otherwise.
const DefaultHeartbeatInterval = 5 * time.Second

// Socket manages one channel-server connection: the join handshake,
// listener dispatch, and the heartbeat loop that detects and repairs
// dropped connections. Exported methods are safe for concurrent use.
type Socket struct {
	url string

	lock          sync.Mutex
	params        map[string]any
	transport     Transport
	conn          Conn
	delayStrategy ReconnectDelayStrategy

	heartbeatInterval time.Duration

	// logger is atomic so logging never contends with, or nests under,
	// socket.lock.
	logger atomic.Pointer[slog.Logger]

	connected       atomic.Bool
	keepAliveActive atomic.Bool
	manualClose     atomic.Bool

	registry *channelRegistry

	stateLock      sync.Mutex
	stateListeners []ConnectionStateListener

	// reconnected carries one pulse per successful heartbeat-loop
	// reconnect; Run drains it to restart listening on the new conn.
	reconnected chan struct{}
}

// NewSocket returns a new Socket for the endpoint URL. Configuration
// methods chain:
//
//	socket := realtime.NewSocket("ws://localhost:4000/socket/websocket").
//		SetParams(map[string]any{"apikey": key}).
//		SetHeartbeatInterval(10 * time.Second)
func NewSocket(url string) *Socket {
	socket := &Socket{
		url:               url,
		heartbeatInterval: DefaultHeartbeatInterval,
		transport:         &WebsocketTransport{},
		delayStrategy:     NewImmediateDelayStrategy(),
		registry:          newChannelRegistry(),
		reconnected:       make(chan struct{}, 1),
	}
	socket.logger.Store(slog.Default())
	return socket
}

// URL returns the endpoint URL without connection params.
func (socket *Socket) URL() string { return socket.url }

// Params returns a copy of the connection params.
func (socket *Socket) Params() map[string]any { return socket.cloneParams() }

// SetParams sets the params appended to the endpoint URL as a query string
// at connect time and used as the default channel join payload.
func (socket *Socket) SetParams(params map[string]any) *Socket {
	socket.lock.Lock()
	socket.params = params
	socket.lock.Unlock()
	return socket
}

// HeartbeatInterval returns the configured heartbeat interval.
func (socket *Socket) HeartbeatInterval() time.Duration {
	socket.lock.Lock()
	defer socket.lock.Unlock()
	return socket.heartbeatInterval
}

// SetHeartbeatInterval sets the delay between heartbeat frames. It takes
// effect the next time KeepAlive starts. Non-positive values restore the
// default.
func (socket *Socket) SetHeartbeatInterval(interval time.Duration) *Socket {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	socket.lock.Lock()
	socket.heartbeatInterval = interval
	socket.lock.Unlock()
	return socket
}

// SetTransport replaces the websocket transport.
func (socket *Socket) SetTransport(transport Transport) *Socket {
	socket.lock.Lock()
	socket.transport = transport
	socket.lock.Unlock()
	return socket
}

// SetReconnectDelayStrategy replaces the strategy consulted before each
// reconnect attempt.
func (socket *Socket) SetReconnectDelayStrategy(strategy ReconnectDelayStrategy) *Socket {
	socket.lock.Lock()
	socket.delayStrategy = strategy
	socket.lock.Unlock()
	return socket
}

// SetLogger replaces the logger. The default is slog.Default.
func (socket *Socket) SetLogger(logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	socket.logger.Store(logger)
	return socket
}

// AddConnectionStateListener registers listener for lifecycle
// notifications.
func (socket *Socket) AddConnectionStateListener(listener ConnectionStateListener) *Socket {
	if listener == nil {
		return socket
	}
	socket.stateLock.Lock()
	socket.stateListeners = append(socket.stateListeners, listener)
	socket.stateLock.Unlock()
	return socket
}

// Connect dials the endpoint, with params appended as a query string, and
// establishes the session. Connecting an already connected socket returns
// ErrAlreadyConnected; a dial or handshake failure returns
// ErrConnectionFailed and leaves the socket disconnected.
func (socket *Socket) Connect(ctx context.Context) error {
	socket.lock.Lock()
	defer socket.lock.Unlock()

	if socket.conn != nil {
		if socket.conn.IsOpen() {
			return ErrAlreadyConnected
		}
		_ = socket.conn.Close()
		socket.conn = nil
		socket.connected.Store(false)
	}

	socket.manualClose.Store(false)
	return socket.openLocked(ctx)
}

// openLocked dials and installs a new conn. Callers hold socket.lock.
func (socket *Socket) openLocked(ctx context.Context) error {
	socket.notifyConnectionState(StateConnecting)

	target := appendParams(socket.url, socket.params)
	conn, err := socket.transport.Open(ctx, target)
	if err != nil {
		socket.notifyConnectionState(StateDisconnected)
		if errors.Is(err, ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	socket.conn = conn
	socket.connected.Store(true)
	socket.delayStrategy.Reset()
	socket.notifyConnectionState(StateConnected)
	socket.loggerRef().Info("connected", "url", socket.url)
	return nil
}

// Disconnect closes the connection and suppresses reconnection until the
// next Connect. The socket is marked disconnected even when the close
// itself reports an error. Disconnecting an idle socket is a no-op.
func (socket *Socket) Disconnect() error {
	socket.lock.Lock()
	defer socket.lock.Unlock()

	socket.manualClose.Store(true)
	socket.connected.Store(false)

	conn := socket.conn
	socket.conn = nil
	if conn == nil {
		return nil
	}

	err := conn.Close()
	socket.notifyConnectionState(StateDisconnected)
	socket.loggerRef().Info("disconnected", "url", socket.url)
	if err != nil {
		return fmt.Errorf("realtime: closing connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the socket holds an open connection. Purely
// observational.
func (socket *Socket) IsConnected() bool {
	if !socket.connected.Load() {
		return false
	}
	conn := socket.currentConn()
	return conn != nil && conn.IsOpen()
}

// Channel creates a channel bound to topic, registers it, and returns it.
// Optional params become that channel's join payload in place of the socket
// params. Requires an established connection. Creating several channels for
// one topic is allowed; each receives its own dispatch. Channel does not
// send the join handshake: call Subscribe or Channel.Join separately.
func (socket *Socket) Channel(topic string, params ...map[string]any) (*Channel, error) {
	if !socket.IsConnected() {
		return nil, fmt.Errorf("%w: channel %q", ErrNotConnected, topic)
	}
	channelParams := socket.cloneParams()
	if len(params) > 0 && params[0] != nil {
		channelParams = params[0]
	}
	channel := newChannel(socket, topic, channelParams)
	socket.registry.register(topic, channel)
	return channel, nil
}

// Subscribe sends the join handshake for topic with an empty payload. It is
// fire-and-forget: the join reply is consumed by the receive loop and never
// dispatched. Requires an established connection; fails with
// ErrNotConnected before writing anything otherwise.
func (socket *Socket) Subscribe(topic string) error {
	return socket.sendJoin(topic, nil)
}

// Unsubscribe sends the leave frame for topic. Channels registered for the
// topic stay in the registry; use Channel.Leave to also drop one.
func (socket *Socket) Unsubscribe(topic string) error {
	return socket.sendLeave(topic)
}

func (socket *Socket) sendJoin(topic string, params map[string]any) error {
	payload := map[string]any{}
	for key, value := range params {
		payload[key] = value
	}
	if err := socket.send(Message{Topic: topic, Event: EventJoin, Payload: payload}); err != nil {
		return err
	}
	socket.loggerRef().Debug("join sent", "topic", topic)
	return nil
}

func (socket *Socket) sendLeave(topic string) error {
	if err := socket.send(Message{Topic: topic, Event: EventLeave, Payload: map[string]any{}}); err != nil {
		return err
	}
	socket.loggerRef().Debug("leave sent", "topic", topic)
	return nil
}

// Push sends an arbitrary envelope on topic. Payloads must be JSON
// encodable.
func (socket *Socket) Push(topic string, event string, payload any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return socket.send(Message{Topic: topic, Event: event, Payload: payload})
}

// send enforces the connection precondition before touching the wire.
func (socket *Socket) send(msg Message) error {
	conn := socket.currentConn()
	if !socket.connected.Load() || conn == nil {
		return fmt.Errorf("%w: send %s to %q", ErrNotConnected, msg.Event, msg.Topic)
	}
	return conn.Send(msg)
}

// Listen reads frames until the connection drops or ctx ends. Cancelling
// ctx closes the connection to unblock the read. Malformed frames are
// dropped with a log line and the loop keeps reading. Reply frames are
// consumed without dispatch. Every other frame goes to each channel
// registered for its topic, in registration order, to each listener whose
// event matches, in registration order, with the frame payload. A listener
// panic is recovered and logged; delivery continues with the remaining
// listeners.
//
// Listen returns nil when ctx ends and ErrConnectionClosed when the
// transport drops. It never reconnects; Run combines Listen with KeepAlive
// and restarts listening after each repair.
func (socket *Socket) Listen(ctx context.Context) error {
	conn := socket.currentConn()
	if conn == nil || !socket.connected.Load() {
		return fmt.Errorf("%w: listen", ErrNotConnected)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	logger := socket.loggerRef()
	for {
		msg, raw, err := conn.Receive()
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformedMessage):
			logger.Warn("dropping malformed frame", "error", err, "frame", truncateFrame(raw))
			continue
		default:
			if ctx.Err() != nil {
				return nil
			}
			logger.Info("receive loop ended", "error", err)
			return err
		}

		if msg.Event == EventReply {
			continue
		}
		socket.dispatch(msg)
	}
}

func (socket *Socket) dispatch(msg Message) {
	for _, channel := range socket.registry.channelsFor(msg.Topic) {
		for _, listener := range channel.Listeners() {
			if listener.Event != msg.Event {
				continue
			}
			socket.invoke(listener, msg)
		}
	}
}

func (socket *Socket) invoke(listener CallbackListener, msg Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			socket.loggerRef().Error("listener panicked",
				"topic", msg.Topic, "event", msg.Event, "panic", recovered)
		}
	}()
	listener.Handler(msg.Payload)
}

// KeepAlive runs the heartbeat loop: every heartbeat interval it sends one
// heartbeat frame on the reserved topic. When a send fails because the
// connection is gone, and Disconnect was not called, it makes exactly one
// reconnect attempt, waiting first for whatever the delay strategy asks,
// then continues the loop either way, so a dead server is retried on every
// tick. Requires an established connection to start. At most one loop runs
// per socket; concurrent calls return nil immediately. KeepAlive returns
// when ctx ends, within one interval of Disconnect, or with
// ErrReconnectGaveUp when the strategy quits.
func (socket *Socket) KeepAlive(ctx context.Context) error {
	if socket.currentConn() == nil {
		return fmt.Errorf("%w: keep alive", ErrNotConnected)
	}
	if !socket.keepAliveActive.CompareAndSwap(false, true) {
		return nil
	}
	defer socket.keepAliveActive.Store(false)

	ticker := time.NewTicker(socket.HeartbeatInterval())
	defer ticker.Stop()

	logger := socket.loggerRef()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if socket.manualClose.Load() {
			return nil
		}

		err := socket.send(heartbeatMessage())
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, ErrNotConnected) {
			logger.Warn("heartbeat send failed", "error", err)
			continue
		}

		logger.Warn("connection lost, reconnecting", "error", err)
		socket.notifyConnectionState(StateDisconnected)
		if reconnectErr := socket.tryReconnect(ctx); reconnectErr != nil {
			if errors.Is(reconnectErr, ErrReconnectGaveUp) {
				logger.Error("reconnect abandoned", "error", reconnectErr)
				return reconnectErr
			}
			logger.Error("reconnect failed", "error", reconnectErr)
		}
	}
}

// tryReconnect makes one repair attempt: consult the delay strategy, wait,
// redial. On success it pulses the reconnected channel for Run.
func (socket *Socket) tryReconnect(ctx context.Context) error {
	wait, err := socket.currentDelayStrategy().GetConnectWaitDuration(socket.url)
	if err != nil {
		return err
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	socket.lock.Lock()
	defer socket.lock.Unlock()

	if socket.manualClose.Load() {
		return nil
	}
	if socket.conn != nil && socket.conn.IsOpen() {
		return nil
	}
	if socket.conn != nil {
		_ = socket.conn.Close()
		socket.conn = nil
		socket.connected.Store(false)
	}
	if err := socket.openLocked(ctx); err != nil {
		return err
	}

	select {
	case socket.reconnected <- struct{}{}:
	default:
	}
	socket.loggerRef().Info("reconnected", "url", socket.url)
	return nil
}

// Run supervises the two connection loops: KeepAlive for heartbeats and
// repair, Listen for dispatch, restarting the latter on every reconnect so
// a repaired transport always has a reader. Run blocks until ctx ends,
// Disconnect is called, or the delay strategy gives up.
func (socket *Socket) Run(ctx context.Context) error {
	if !socket.IsConnected() {
		return fmt.Errorf("%w: run", ErrNotConnected)
	}

	// drop any stale pulse from an earlier session
	select {
	case <-socket.reconnected:
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		return socket.KeepAlive(groupCtx)
	})
	group.Go(func() error {
		for {
			err := socket.Listen(groupCtx)
			if groupCtx.Err() != nil || socket.manualClose.Load() {
				return nil
			}
			if err != nil && !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, ErrNotConnected) {
				return err
			}
			select {
			case <-groupCtx.Done():
				return nil
			case <-socket.reconnected:
			}
		}
	})
	return group.Wait()
}

// Summary returns a human-readable listing of the registered channels and
// their listener events, one line per channel, topics sorted.
func (socket *Socket) Summary() string {
	return strings.Join(socket.registry.summaryLines(), "\n")
}

// Topics returns the topics with at least one registered channel, sorted.
func (socket *Socket) Topics() []string {
	return socket.registry.topics()
}

func (socket *Socket) notifyConnectionState(state ConnectionState) {
	socket.stateLock.Lock()
	listeners := make([]ConnectionStateListener, len(socket.stateListeners))
	copy(listeners, socket.stateListeners)
	socket.stateLock.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					socket.loggerRef().Error("state listener panicked",
						"state", state.String(), "panic", recovered)
				}
			}()
			listener.ConnectionStateChanged(state)
		}()
	}
}

func (socket *Socket) currentConn() Conn {
	socket.lock.Lock()
	defer socket.lock.Unlock()
	return socket.conn
}

func (socket *Socket) currentDelayStrategy() ReconnectDelayStrategy {
	socket.lock.Lock()
	defer socket.lock.Unlock()
	return socket.delayStrategy
}

func (socket *Socket) loggerRef() *slog.Logger {
	return socket.logger.Load()
}

func (socket *Socket) cloneParams() map[string]any {
	socket.lock.Lock()
	defer socket.lock.Unlock()
	out := make(map[string]any, len(socket.params))
	for key, value := range socket.params {
		out[key] = value
	}
	return out
}

func truncateFrame(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
