package domain

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope is the wire form of a RoomEvent on the log and on fan-out.
type Envelope struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(ev RoomEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Type: ev.Type(), RoomID: ev.Room(), Payload: payload})
}

func Decode(data []byte) (RoomEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Event()
}

// Event unpacks the payload into its concrete variant.
func (e Envelope) Event() (RoomEvent, error) {
	var ev RoomEvent
	switch e.Type {
	case TypeMessage:
		ev = &Message{}
	case TypePresence:
		ev = &PresenceChange{}
	case TypeReaction:
		ev = &Reaction{}
	case TypeTyping:
		ev = &Typing{}
	case TypeReadReceipt:
		ev = &ReadReceipt{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%s event without payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return ev, nil
}
