package realtime

import "sync"

// EventHandler consumes the payload of a dispatched envelope. Handlers run
// on the receive goroutine, in registration order; a slow handler delays
// every listener behind it.
type EventHandler func(payload any)

// CallbackListener binds an event name to its handler.
type CallbackListener struct {
	Event   string
	Handler EventHandler
}

// Channel is one registration of interest in a topic. Several channels may
// share a topic; each receives its own dispatch. Channels are created with
// Socket.Channel and carry no wire state of their own.
type Channel struct {
	socket *Socket
	topic  string
	params map[string]any

	lock      sync.Mutex
	listeners []CallbackListener
}

func newChannel(socket *Socket, topic string, params map[string]any) *Channel {
	return &Channel{socket: socket, topic: topic, params: params}
}

// Topic returns the channel topic.
func (channel *Channel) Topic() string { return channel.topic }

// On registers handler for event and returns the channel for chaining.
// Multiple registrations for one event are all retained and all invoked, in
// registration order.
func (channel *Channel) On(event string, handler EventHandler) *Channel {
	channel.lock.Lock()
	channel.listeners = append(channel.listeners, CallbackListener{Event: event, Handler: handler})
	channel.lock.Unlock()
	return channel
}

// Listeners returns a snapshot of the registered listeners. Dispatch works
// on snapshots, so registering during an in-flight dispatch never mutates a
// list being walked.
func (channel *Channel) Listeners() []CallbackListener {
	channel.lock.Lock()
	defer channel.lock.Unlock()
	out := make([]CallbackListener, len(channel.listeners))
	copy(out, channel.listeners)
	return out
}

// Join sends the join handshake for this channel's topic with the channel
// params as payload. The server reply is consumed by the receive loop and
// never dispatched.
func (channel *Channel) Join() error {
	return channel.socket.sendJoin(channel.topic, channel.params)
}

// Leave sends the leave frame for this channel's topic and drops the
// channel from the socket registry. Dispatch stops reaching it once the
// frame is on the wire.
func (channel *Channel) Leave() error {
	if err := channel.socket.sendLeave(channel.topic); err != nil {
		return err
	}
	channel.socket.registry.remove(channel.topic, channel)
	return nil
}

// events lists the event names with listeners, in registration order.
func (channel *Channel) events() []string {
	channel.lock.Lock()
	defer channel.lock.Unlock()
	names := make([]string, 0, len(channel.listeners))
	for _, listener := range channel.listeners {
		names = append(names, listener.Event)
	}
	return names
}
