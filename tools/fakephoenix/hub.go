package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// The wire protocol is reimplemented here on purpose so the responder stays
// independent of the client codec it is used to test.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventHeartbeat = "heartbeat"
	controlTopic   = "phoenix"
)

type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

var emptyPayload = json.RawMessage(`{}`)

func okReply(topic string, ref *string) envelope {
	return envelope{
		Topic:   topic,
		Event:   eventReply,
		Payload: json.RawMessage(`{"status":"ok","response":{}}`),
		Ref:     ref,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// session is one websocket client. Writes are serialized by writeLock because
// gorilla allows a single concurrent writer per connection.
type session struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	remote    string
}

func (s *session) send(message envelope) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.conn.WriteJSON(message)
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// hub tracks which sessions joined which topics and fans events out to them.
type hub struct {
	lock     sync.RWMutex
	topics   map[string]map[*session]struct{}
	limiter  *rate.Limiter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	started          time.Time
	sessionsAccepted atomic.Uint64
	sessionsCurrent  atomic.Int64
	eventsDelivered  atomic.Uint64
}

func newHub(limiter *rate.Limiter, logger *slog.Logger) *hub {
	return &hub{
		topics:  make(map[string]map[*session]struct{}),
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

func (h *hub) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &session{conn: conn, remote: r.RemoteAddr}
	h.sessionsAccepted.Add(1)
	h.sessionsCurrent.Add(1)
	h.logger.Debug("session opened", "remote", client.remote, "query", r.URL.RawQuery)

	defer func() {
		h.dropSession(client)
		_ = conn.Close()
		h.sessionsCurrent.Add(-1)
		h.logger.Debug("session closed", "remote", client.remote)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var message envelope
		if err := json.Unmarshal(raw, &message); err != nil {
			h.logger.Debug("dropping malformed frame", "remote", client.remote, "error", err)
			continue
		}
		if len(message.Payload) == 0 {
			message.Payload = emptyPayload
		}

		switch message.Event {
		case eventJoin:
			h.join(message.Topic, client)
			_ = client.send(okReply(message.Topic, message.Ref))
		case eventLeave:
			h.leave(message.Topic, client)
			_ = client.send(okReply(message.Topic, message.Ref))
		case eventHeartbeat:
			_ = client.send(okReply(controlTopic, message.Ref))
		default:
			// Client push: fan it out to everything joined to the topic.
			if _, err := h.broadcast(r.Context(), message); err != nil {
				return
			}
		}
	}
}

func (h *hub) join(topic string, client *session) {
	h.lock.Lock()
	defer h.lock.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*session]struct{})
		h.topics[topic] = members
	}
	members[client] = struct{}{}
	h.logger.Debug("session joined", "topic", topic, "remote", client.remote)
}

func (h *hub) leave(topic string, client *session) {
	h.lock.Lock()
	defer h.lock.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
	h.logger.Debug("session left", "topic", topic, "remote", client.remote)
}

func (h *hub) dropSession(client *session) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for topic, members := range h.topics {
		delete(members, client)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

// broadcast delivers one event to every session joined to its topic and
// reports how many sessions received it. The rate limiter charges one token
// per event, not per recipient.
func (h *hub) broadcast(ctx context.Context, message envelope) (int, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	if len(message.Payload) == 0 {
		message.Payload = emptyPayload
	}

	h.lock.RLock()
	members := make([]*session, 0, len(h.topics[message.Topic]))
	for client := range h.topics[message.Topic] {
		members = append(members, client)
	}
	h.lock.RUnlock()

	delivered := 0
	for _, client := range members {
		if err := client.send(message); err != nil {
			h.logger.Debug("send failed", "topic", message.Topic, "remote", client.remote, "error", err)
			continue
		}
		delivered++
	}
	h.eventsDelivered.Add(uint64(delivered))
	return delivered, nil
}

func (h *hub) topicSummary() map[string]int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	summary := make(map[string]int, len(h.topics))
	for topic, members := range h.topics {
		summary[topic] = len(members)
	}
	return summary
}

func (h *hub) topicNames() []string {
	h.lock.RLock()
	defer h.lock.RUnlock()
	names := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

func (h *hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	closed := make(map[*session]struct{})
	for _, members := range h.topics {
		for client := range members {
			if _, done := closed[client]; done {
				continue
			}
			_ = client.conn.Close()
			closed[client] = struct{}{}
		}
	}
	h.topics = make(map[string]map[*session]struct{})
}
