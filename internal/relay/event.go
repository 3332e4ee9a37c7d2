package relay

import (
	"encoding/json"
	"fmt"
)

// Inbound event names, as sent by the chat clients.
const (
	EventSetup            = "setup"
	EventJoinChat         = "join chat"
	EventLeaveChat        = "leave chat"
	EventTyping           = "typing"
	EventStopTyping       = "stop typing"
	EventNewMessage       = "new message"
	EventGroupRenamed     = "groupRenamed"
	EventUserRemoved      = "user removed"
	EventUserAdded        = "user added"
	EventGroupChatCreated = "group chat created"
)

var inbound = map[string]struct{}{
	EventSetup: {}, EventJoinChat: {}, EventLeaveChat: {},
	EventTyping: {}, EventStopTyping: {}, EventNewMessage: {},
	EventGroupRenamed: {}, EventUserRemoved: {}, EventUserAdded: {},
	EventGroupChatCreated: {},
}

// IsInbound reports whether name is one of the events clients send.
func IsInbound(name string) bool {
	_, ok := inbound[name]
	return ok
}

// Outbound event names. Typing events keep their inbound name.
const (
	EventConnected           = "connected"
	EventMessageReceived     = "message received"
	EventGroupNameChanged    = "groupNameChanged"
	EventUserWasRemoved      = "user was removed"
	EventUserWasAdded        = "user was added"
	EventGroupChatWasCreated = "groupChat was created"
)

// Event is a named message with an event-specific JSON payload. It doubles as
// the wire envelope exchanged with clients.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an Event, encoding data as its payload. A nil data yields an
// event without payload.
func NewEvent(name string, data any) (Event, error) {
	if data == nil {
		return Event{Name: name}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %q payload: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}

// Delivery is one outbound event addressed to one connection. Room is the
// room the delivery was routed through and is empty for direct emits.
type Delivery struct {
	Conn  ConnID
	Room  RoomKey
	Event Event
}

// Broadcast is the room-level outcome of a targeting rule.
type Broadcast struct {
	Rooms       []RoomKey `json:"rooms"`
	ExcludeUser string    `json:"excludeUser,omitempty"`
	Event       Event     `json:"event"`
}

// userRef accepts either a populated user document ({"_id": "..."}) or a bare
// user id string.
type userRef struct {
	ID string
}

func (u *userRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		u.ID = id
		return nil
	}
	var doc struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	u.ID = doc.ID
	return nil
}

type chatUsers struct {
	Users []userRef `json:"users"`
}

// usersOf extracts the member ids of a chat document. A chat without a users
// list (absent or null) is rejected; an empty list is not.
func usersOf(chat json.RawMessage) ([]string, error) {
	if len(chat) == 0 || string(chat) == "null" {
		return nil, ErrMissingUsers
	}
	var c chatUsers
	if err := json.Unmarshal(chat, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if c.Users == nil {
		return nil, ErrMissingUsers
	}
	ids := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
