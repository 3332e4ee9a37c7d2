package relay_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

func TestNewMessageRule(t *testing.T) {
	payload := json.RawMessage(`{"newMessage":{"content":"hi","sender":{"_id":"A"},"chat":{"_id":"chat-1","users":[{"_id":"A"},{"_id":"B"},"C",{"_id":"B"},null]}}}`)

	target, err := relay.NewMessageRule(payload)

	require.NoError(t, err)
	assert.Equal(t, []relay.RoomKey{"A", "B", "C"}, target.Rooms)
	assert.Equal(t, "A", target.ExcludeUser)
	assert.False(t, target.NotifySender)
	assert.Equal(t, relay.EventMessageReceived, target.Event.Name)
	assert.JSONEq(t, string(payload), string(target.Event.Data))
}

func TestNewMessageRule_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{name: "no users", payload: `{"newMessage":{"chat":{"_id":"chat-1"}}}`, want: relay.ErrMissingUsers},
		{name: "null users", payload: `{"newMessage":{"chat":{"users":null}}}`, want: relay.ErrMissingUsers},
		{name: "no chat", payload: `{"newMessage":{"content":"hi"}}`, want: relay.ErrMissingUsers},
		{name: "no message", payload: `{}`, want: relay.ErrMissingUsers},
		{name: "users not a list", payload: `{"newMessage":{"chat":{"users":"A"}}}`, want: relay.ErrMalformedPayload},
		{name: "not json", payload: `{"newMessage":`, want: relay.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := relay.NewMessageRule(json.RawMessage(tt.payload))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTypingRule(t *testing.T) {
	rule := relay.TypingRule(relay.EventStopTyping)

	target, err := rule(json.RawMessage(`"chat-1"`))
	require.NoError(t, err)
	assert.Equal(t, []relay.RoomKey{"chat-1"}, target.Rooms)
	assert.Equal(t, relay.EventStopTyping, target.Event.Name)
	assert.JSONEq(t, `"chat-1"`, string(target.Event.Data))
	assert.False(t, target.NotifySender)

	target, err = rule(json.RawMessage(`{"_id":"chat-2","users":[]}`))
	require.NoError(t, err)
	assert.Equal(t, []relay.RoomKey{"chat-2"}, target.Rooms)

	for _, bad := range []string{``, `""`, `null`, `{}`} {
		_, err := rule(json.RawMessage(bad))
		assert.ErrorIs(t, err, relay.ErrMissingRoom, "payload %q", bad)
	}
	_, err = rule(json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, relay.ErrMalformedPayload)
}

func TestGroupRule(t *testing.T) {
	chat := `{"_id":"g1","chatName":"team","users":[{"_id":"A"},{"_id":"B"}]}`

	tests := []struct {
		name     string
		event    string
		payload  string
		wantOut  string
		wantData string
	}{
		{
			name:     "renamed",
			event:    relay.EventGroupRenamed,
			payload:  `{"chat":` + chat + `}`,
			wantOut:  relay.EventGroupNameChanged,
			wantData: `{"chat":` + chat + `}`,
		},
		{
			name:     "user removed",
			event:    relay.EventUserRemoved,
			payload:  `{"updatedChat":` + chat + `}`,
			wantOut:  relay.EventUserWasRemoved,
			wantData: `{"chat":` + chat + `}`,
		},
		{
			name:     "user added",
			event:    relay.EventUserAdded,
			payload:  `{"updatedChat":` + chat + `,"name":"Carol"}`,
			wantOut:  relay.EventUserWasAdded,
			wantData: `{"chat":` + chat + `,"name":"Carol"}`,
		},
		{
			name:     "group chat created",
			event:    relay.EventGroupChatCreated,
			payload:  `{"groupChat":` + chat + `}`,
			wantOut:  relay.EventGroupChatWasCreated,
			wantData: `{"chat":` + chat + `}`,
		},
	}

	rules := relay.DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := rules[tt.event]
			require.True(t, ok)

			target, err := rule(json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, []relay.RoomKey{"A", "B"}, target.Rooms)
			assert.Empty(t, target.ExcludeUser)
			assert.True(t, target.NotifySender)
			assert.Equal(t, tt.wantOut, target.Event.Name)
			assert.JSONEq(t, tt.wantData, string(target.Event.Data))
		})
	}
}

func TestGroupRule_MissingUsers(t *testing.T) {
	rule := relay.GroupRule("updatedChat", relay.EventUserWasRemoved, false)

	_, err := rule(json.RawMessage(`{"chat":{"users":[]}}`))
	assert.ErrorIs(t, err, relay.ErrMissingUsers, "wrong field must not be read")

	_, err = rule(json.RawMessage(`{"updatedChat":{"_id":"g1"}}`))
	assert.ErrorIs(t, err, relay.ErrMissingUsers)

	_, err = rule(json.RawMessage(`"g1"`))
	assert.ErrorIs(t, err, relay.ErrMalformedPayload)

	target, err := rule(json.RawMessage(`{"updatedChat":{"users":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, target.Rooms)
}

func TestNewEvent(t *testing.T) {
	evt, err := relay.NewEvent(relay.EventConnected, nil)
	require.NoError(t, err)
	assert.Nil(t, evt.Data)

	evt, err = relay.NewEvent(relay.EventTyping, "chat-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"chat-1"`, string(evt.Data))

	_, err = relay.NewEvent("bad", make(chan int))
	assert.Error(t, err)
}

func TestIsInbound(t *testing.T) {
	for name := range relay.DefaultRules() {
		assert.True(t, relay.IsInbound(name), name)
	}
	assert.True(t, relay.IsInbound(relay.EventSetup))
	assert.True(t, relay.IsInbound(relay.EventLeaveChat))
	assert.False(t, relay.IsInbound(relay.EventMessageReceived))
	assert.False(t, relay.IsInbound(""))
}
