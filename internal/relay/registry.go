package relay

import (
	"slices"

	"github.com/samber/lo"
)

// ConnID identifies one live client connection.
type ConnID string

// RoomKey identifies a room. User rooms are keyed by user id, chat rooms by
// chat id; the registry does not distinguish between them.
type RoomKey string

// State is the lifecycle state of a connection.
type State int

const (
	StateConnected State = iota
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is the registry's view of one client session.
type Connection struct {
	id     ConnID
	userID string
	state  State
	rooms  map[RoomKey]struct{}
}

func (c *Connection) ID() ConnID     { return c.id }
func (c *Connection) UserID() string { return c.userID }
func (c *Connection) State() State   { return c.state }

// Rooms returns the keys of every room the connection joined, sorted.
func (c *Connection) Rooms() []RoomKey {
	return sortedKeys(c.rooms)
}

// InRoom reports whether the connection joined the given room.
func (c *Connection) InRoom(key RoomKey) bool {
	_, ok := c.rooms[key]
	return ok
}

// Room is a multicast group of connections.
type Room struct {
	key     RoomKey
	members map[ConnID]struct{}
}

func (r *Room) Key() RoomKey { return r.key }
func (r *Room) Len() int     { return len(r.members) }

// Has reports whether the connection is a member of the room.
func (r *Room) Has(id ConnID) bool {
	_, ok := r.members[id]
	return ok
}

// Members returns the member connection ids, sorted.
func (r *Room) Members() []ConnID {
	return sortedKeys(r.members)
}

// Registry tracks live connections and keeps the reverse index from room key
// to member connections. A room exists only while it has members.
//
// Registry is not safe for concurrent use; the event loop owns it.
type Registry struct {
	conns map[ConnID]*Connection
	rooms map[RoomKey]*Room
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*Connection),
		rooms: make(map[RoomKey]*Room),
	}
}

// Register creates an empty membership set for the connection. Registering a
// known connection returns the existing entry unchanged.
func (r *Registry) Register(id ConnID) *Connection {
	if c, ok := r.conns[id]; ok {
		return c
	}
	c := &Connection{
		id:    id,
		state: StateConnected,
		rooms: make(map[RoomKey]struct{}),
	}
	r.conns[id] = c
	return c
}

// Unregister removes the connection and its membership from every room. It
// returns the removed connection, or nil when the id was unknown.
func (r *Registry) Unregister(id ConnID) *Connection {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	for key := range c.rooms {
		r.removeMember(key, id)
	}
	c.rooms = make(map[RoomKey]struct{})
	c.state = StateDisconnected
	delete(r.conns, id)
	return c
}

// Connection looks up a live connection.
func (r *Registry) Connection(id ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Room looks up a room with at least one member.
func (r *Registry) Room(key RoomKey) (*Room, bool) {
	room, ok := r.rooms[key]
	return room, ok
}

// RoomMembers returns the connections subscribed to key, sorted. Unknown rooms
// yield an empty slice.
func (r *Registry) RoomMembers(key RoomKey) []ConnID {
	room, ok := r.rooms[key]
	if !ok {
		return []ConnID{}
	}
	return room.Members()
}

// RoomsOf returns the rooms a connection joined; unknown connections have none.
func (r *Registry) RoomsOf(id ConnID) []RoomKey {
	c, ok := r.conns[id]
	if !ok {
		return []RoomKey{}
	}
	return c.Rooms()
}

// Stats returns the number of live connections and non-empty rooms.
func (r *Registry) Stats() (connections, rooms int) {
	return len(r.conns), len(r.rooms)
}

// Reset drops every connection and room.
func (r *Registry) Reset() {
	for _, c := range r.conns {
		c.state = StateDisconnected
	}
	r.conns = make(map[ConnID]*Connection)
	r.rooms = make(map[RoomKey]*Room)
}

func (r *Registry) removeMember(key RoomKey, id ConnID) {
	room, ok := r.rooms[key]
	if !ok {
		return
	}
	delete(room.members, id)
	if len(room.members) == 0 {
		delete(r.rooms, key)
	}
}

func sortedKeys[K ~string](m map[K]struct{}) []K {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
