package relay

// Join adds the connection to the room and records the room in the
// connection's membership set. Joining twice is a no-op. It reports whether
// the membership changed; unknown connections and empty keys never join.
func (r *Registry) Join(id ConnID, key RoomKey) bool {
	c, ok := r.conns[id]
	if !ok || key == "" {
		return false
	}
	if _, joined := c.rooms[key]; joined {
		return false
	}

	room, ok := r.rooms[key]
	if !ok {
		room = &Room{key: key, members: make(map[ConnID]struct{})}
		r.rooms[key] = room
	}
	room.members[id] = struct{}{}
	c.rooms[key] = struct{}{}
	return true
}

// Leave is the inverse of Join.
func (r *Registry) Leave(id ConnID, key RoomKey) bool {
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, joined := c.rooms[key]; !joined {
		return false
	}
	delete(c.rooms, key)
	r.removeMember(key, id)
	return true
}
