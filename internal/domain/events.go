package domain

import "time"

type EventType string

const (
	TypeMessage     EventType = "MESSAGE"
	TypePresence    EventType = "PRESENCE"
	TypeReaction    EventType = "REACTION"
	TypeTyping      EventType = "TYPING"
	TypeReadReceipt EventType = "READ_RECEIPT"
)

// RoomEvent is the closed set of events that travel through a room's stream.
// Only the types in this package implement it.
type RoomEvent interface {
	Type() EventType
	Room() string
	ID() string
	isRoomEvent()
}

type MessageKind string

const (
	MessageText  MessageKind = "TEXT"
	MessageJoin  MessageKind = "JOIN"
	MessageLeave MessageKind = "LEAVE"
)

type Message struct {
	MessageID string      `bson:"_id" json:"message_id" validate:"required,notblank,max=128"`
	RoomID    string      `bson:"room_id" json:"room_id" validate:"required,notblank,max=128"`
	UserID    string      `bson:"user_id" json:"user_id" validate:"required,notblank,max=128"`
	Username  string      `bson:"username" json:"username" validate:"required,notblank,max=64"`
	Content   string      `bson:"content" json:"content" validate:"required,notblank,max=1000"`
	Kind      MessageKind `bson:"kind" json:"kind" validate:"required,oneof=TEXT JOIN LEAVE"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp" validate:"required"`
}

func (m *Message) Type() EventType { return TypeMessage }
func (m *Message) Room() string    { return m.RoomID }
func (m *Message) ID() string      { return m.MessageID }
func (*Message) isRoomEvent()      {}

type PresenceAction string

const (
	UserJoined PresenceAction = "USER_JOINED"
	UserLeft   PresenceAction = "USER_LEFT"
	Heartbeat  PresenceAction = "HEARTBEAT"
)

type PresenceChange struct {
	EventID   string         `json:"event_id" validate:"required,notblank,max=128"`
	RoomID    string         `json:"room_id" validate:"required,notblank,max=128"`
	UserID    string         `json:"user_id" validate:"required,notblank,max=128"`
	Username  string         `json:"username" validate:"max=64"`
	Action    PresenceAction `json:"action" validate:"required,oneof=USER_JOINED USER_LEFT HEARTBEAT"`
	Timestamp time.Time      `json:"timestamp" validate:"required"`

	// OnlineCount is filled in by the projector before broadcast.
	OnlineCount *int64 `json:"online_count,omitempty" validate:"-"`
}

func (p *PresenceChange) Type() EventType { return TypePresence }
func (p *PresenceChange) Room() string    { return p.RoomID }
func (p *PresenceChange) ID() string      { return p.EventID }
func (*PresenceChange) isRoomEvent()      {}

type ReactionAction string

const (
	ReactionAdd    ReactionAction = "ADD"
	ReactionRemove ReactionAction = "REMOVE"
)

type Reaction struct {
	ReactionID string         `json:"reaction_id" validate:"required,notblank,max=128"`
	MessageID  string         `json:"message_id" validate:"required,notblank,max=128"`
	RoomID     string         `json:"room_id" validate:"required,notblank,max=128"`
	UserID     string         `json:"user_id" validate:"required,notblank,max=128"`
	Username   string         `json:"username" validate:"max=64"`
	Kind       ReactionKind   `json:"kind" validate:"required,reaction_kind"`
	Action     ReactionAction `json:"action" validate:"required,oneof=ADD REMOVE"`
	Timestamp  time.Time      `json:"timestamp" validate:"required"`
}

func (r *Reaction) Type() EventType { return TypeReaction }
func (r *Reaction) Room() string    { return r.RoomID }
func (r *Reaction) ID() string      { return r.ReactionID }
func (*Reaction) isRoomEvent()      {}

type Typing struct {
	EventID   string    `json:"event_id" validate:"required,notblank,max=128"`
	RoomID    string    `json:"room_id" validate:"required,notblank,max=128"`
	UserID    string    `json:"user_id" validate:"required,notblank,max=128"`
	Username  string    `json:"username" validate:"max=64"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

func (t *Typing) Type() EventType { return TypeTyping }
func (t *Typing) Room() string    { return t.RoomID }
func (t *Typing) ID() string      { return t.EventID }
func (*Typing) isRoomEvent()      {}

type ReadReceipt struct {
	EventID   string    `bson:"_id" json:"event_id" validate:"required,notblank,max=128"`
	RoomID    string    `bson:"room_id" json:"room_id" validate:"required,notblank,max=128"`
	UserID    string    `bson:"user_id" json:"user_id" validate:"required,notblank,max=128"`
	MessageID string    `bson:"message_id" json:"message_id" validate:"required,notblank,max=128"`
	Timestamp time.Time `bson:"read_at" json:"timestamp"`
}

func (r *ReadReceipt) Type() EventType { return TypeReadReceipt }
func (r *ReadReceipt) Room() string    { return r.RoomID }
func (r *ReadReceipt) ID() string      { return r.EventID }
func (*ReadReceipt) isRoomEvent()      {}

// Outcome reports whether an idempotent operation changed state.
type Outcome int

const (
	Accepted Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
