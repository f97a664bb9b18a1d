package realtime

import (
	"encoding/json"
	"fmt"
)

// Envelope event names defined by the channel protocol. Servers may deliver
// arbitrary user-defined events beyond these.
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventLeave     = "phx_leave"
	EventClose     = "phx_close"
	EventError     = "phx_error"
	EventHeartbeat = "heartbeat"
)

// PhoenixTopic is the reserved topic for protocol-level traffic such as
// heartbeats.
const PhoenixTopic = "phoenix"

// HeartbeatPayload returns the fixed payload sent with every heartbeat
// frame.
func HeartbeatPayload() map[string]string {
	return map[string]string{"msg": "ping"}
}

// Message is the JSON envelope exchanged with the server. Ref is nil on
// frames originated by this engine; it serializes as JSON null.
type Message struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload any     `json:"payload"`
	Ref     *string `json:"ref"`
}

func heartbeatMessage() Message {
	return Message{Topic: PhoenixTopic, Event: EventHeartbeat, Payload: HeartbeatPayload()}
}

// EncodeMessage serializes msg to its wire form. It succeeds for every
// well-formed envelope; only unencodable payload values (channels, cycles)
// fail.
func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s to %q: %w", msg.Event, msg.Topic, err)
	}
	return data, nil
}

// ParseMessage decodes one raw inbound frame. Frames that are not JSON
// objects, or that lack a topic or event string, fail with
// ErrMalformedMessage. An absent or null payload decodes as an empty map.
func ParseMessage(data []byte) (Message, error) {
	var raw struct {
		Topic   *string         `json:"topic"`
		Event   *string         `json:"event"`
		Payload json.RawMessage `json:"payload"`
		Ref     *string         `json:"ref"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.Topic == nil || raw.Event == nil {
		return Message{}, fmt.Errorf("%w: missing topic or event", ErrMalformedMessage)
	}

	msg := Message{Topic: *raw.Topic, Event: *raw.Event, Ref: raw.Ref}
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		msg.Payload = map[string]any{}
		return msg, nil
	}
	var payload any
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return Message{}, fmt.Errorf("%w: undecodable payload: %v", ErrMalformedMessage, err)
	}
	msg.Payload = payload
	return msg, nil
}
