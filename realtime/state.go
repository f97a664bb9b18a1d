package realtime

// ConnectionState describes the socket lifecycle for state listeners.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (state ConnectionState) String() string {
	switch state {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionStateListener receives connection state updates. Notifications
// fire on connect, disconnect, heartbeat-detected drops, and reconnects.
// Listeners run on the notifying goroutine, sometimes under internal locks:
// record and return, do not block or call back into the Socket.
type ConnectionStateListener interface {
	ConnectionStateChanged(ConnectionState)
}

// ConnectionStateListenerFunc adapts a function to ConnectionStateListener.
type ConnectionStateListenerFunc func(ConnectionState)

func (f ConnectionStateListenerFunc) ConnectionStateChanged(state ConnectionState) { f(state) }
