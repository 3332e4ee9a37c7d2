package relay

import (
	"encoding/json"
)

// LifecycleListener is told when a user gains or loses a connection.
type LifecycleListener interface {
	UserOnline(userID string, id ConnID)
	UserOffline(userID string, id ConnID)
}

// Connect registers a new connection in state StateConnected.
func (r *Relay) Connect(id ConnID) *Connection {
	c := r.registry.Register(id)
	r.log.Info("connected", "conn", id)
	return c
}

// Setup joins the connection to the user room named by the payload, moves it
// to StateReady and acknowledges with a "connected" event. A connection set up
// again for another user leaves its previous user room first. It returns the
// user id, or an error when the payload carries none.
func (r *Relay) Setup(id ConnID, data json.RawMessage) (string, error) {
	c, ok := r.registry.Connection(id)
	if !ok {
		return "", ErrUnknownConnection
	}
	userID, err := decodeUserID(data)
	if err != nil {
		r.drop(id, EventSetup, err)
		return "", err
	}

	previous := c.userID
	if previous != "" && previous != userID {
		r.registry.Leave(id, RoomKey(previous))
		r.notifyOffline(previous, id)
	}
	r.registry.Join(id, RoomKey(userID))
	c.userID = userID
	c.state = StateReady
	r.log.Info("setup", "conn", id, "user", userID)

	r.emit(Delivery{Conn: id, Event: Event{Name: EventConnected}})
	if previous != userID {
		for _, l := range r.listeners {
			l.UserOnline(userID, id)
		}
	}
	return userID, nil
}

// Disconnect unregisters the connection, discarding every room membership. It
// returns the user the connection was set up for, if any.
func (r *Relay) Disconnect(id ConnID) (string, bool) {
	c := r.registry.Unregister(id)
	if c == nil {
		return "", false
	}
	r.log.Info("user disconnected", "conn", id, "user", c.userID)
	if c.userID != "" {
		r.notifyOffline(c.userID, id)
	}
	return c.userID, true
}

// Error records a transport error on a connection. The connection stays
// registered; only the transport decides to tear it down.
func (r *Relay) Error(id ConnID, err error) {
	r.log.Error("socket error", "conn", id, "error", err)
}

func (r *Relay) notifyOffline(userID string, id ConnID) {
	for _, l := range r.listeners {
		l.UserOffline(userID, id)
	}
}
