package relay

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Target is what a Rule computes for one inbound event: the room broadcast and
// whether the sending connection gets its own copy through a direct emit.
type Target struct {
	Broadcast
	NotifySender bool
}

// Rule maps an inbound payload to its fan-out target. Rules are pure.
type Rule func(data json.RawMessage) (Target, error)

// DefaultRules returns the targeting table for the chat events, keyed by
// inbound event name.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		EventNewMessage:       NewMessageRule,
		EventTyping:           TypingRule(EventTyping),
		EventStopTyping:       TypingRule(EventStopTyping),
		EventGroupRenamed:     GroupRule("chat", EventGroupNameChanged, false),
		EventUserRemoved:      GroupRule("updatedChat", EventUserWasRemoved, false),
		EventUserAdded:        GroupRule("updatedChat", EventUserWasAdded, true),
		EventGroupChatCreated: GroupRule("groupChat", EventGroupChatWasCreated, false),
	}
}

// NewMessageRule targets the user room of every chat member except the
// sender. The payload is forwarded untouched as "message received".
func NewMessageRule(data json.RawMessage) (Target, error) {
	var in struct {
		NewMessage *struct {
			Chat   json.RawMessage `json:"chat"`
			Sender *userRef        `json:"sender"`
		} `json:"newMessage"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if in.NewMessage == nil {
		return Target{}, ErrMissingUsers
	}
	users, err := usersOf(in.NewMessage.Chat)
	if err != nil {
		return Target{}, err
	}

	var sender string
	if in.NewMessage.Sender != nil {
		sender = in.NewMessage.Sender.ID
	}
	return Target{
		Broadcast: Broadcast{
			Rooms:       userRooms(users),
			ExcludeUser: sender,
			Event:       Event{Name: EventMessageReceived, Data: data},
		},
	}, nil
}

// TypingRule targets a single chat room whose key is the payload itself.
func TypingRule(name string) Rule {
	return func(data json.RawMessage) (Target, error) {
		key, err := roomKeyOf(data)
		if err != nil {
			return Target{}, err
		}
		evt, err := NewEvent(name, string(key))
		if err != nil {
			return Target{}, err
		}
		return Target{
			Broadcast: Broadcast{Rooms: []RoomKey{key}, Event: evt},
		}, nil
	}
}

type chatNotice struct {
	Chat json.RawMessage `json:"chat"`
	Name json.RawMessage `json:"name,omitempty"`
}

// GroupRule targets every member's user room and re-notifies the sender. The
// chat document is read from the given payload field and re-emitted as
// {"chat": ...}; withName also carries the payload's "name" field.
func GroupRule(field, out string, withName bool) Rule {
	return func(data json.RawMessage) (Target, error) {
		var in map[string]json.RawMessage
		if err := json.Unmarshal(data, &in); err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		chat := in[field]
		users, err := usersOf(chat)
		if err != nil {
			return Target{}, err
		}

		notice := chatNotice{Chat: chat}
		if withName {
			notice.Name = in["name"]
		}
		evt, err := NewEvent(out, notice)
		if err != nil {
			return Target{}, err
		}
		return Target{
			Broadcast:    Broadcast{Rooms: userRooms(users), Event: evt},
			NotifySender: true,
		}, nil
	}
}

// roomKeyOf reads a room key sent either as a bare string or as a chat
// document carrying an _id.
func roomKeyOf(data json.RawMessage) (RoomKey, error) {
	if len(data) == 0 {
		return "", ErrMissingRoom
	}
	var ref userRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ref.ID == "" {
		return "", ErrMissingRoom
	}
	return RoomKey(ref.ID), nil
}

func userRooms(users []string) []RoomKey {
	return lo.Map(lo.Uniq(lo.Compact(users)), func(id string, _ int) RoomKey {
		return RoomKey(id)
	})
}
