package realtime

import "github.com/google/uuid"

// RoomStat describes one room for the collaborator-facing stats API.
type RoomStat struct {
	RoomID      string `json:"roomId"`
	ClientCount int    `json:"clientCount"`
}

// RoomDirectory indexes room membership. It owns nothing but the index:
// connection lifecycle stays with the Registry, whose actor goroutine is
// the directory's only caller, so no locking happens here.
//
// Rooms are created lazily on first join and deleted the moment their last
// member leaves; an empty room never lingers in the map.
type RoomDirectory struct {
	rooms map[string]map[uuid.UUID]struct{}
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]map[uuid.UUID]struct{})}
}

// Join adds a connection to a room, creating the room if needed.
// Joining a room twice is a harmless no-op.
func (d *RoomDirectory) Join(roomID string, connID uuid.UUID) {
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		d.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

// Leave removes a connection from a room and deletes the room if it is
// now empty. Leaving a room that was never joined is a no-op.
func (d *RoomDirectory) Leave(roomID string, connID uuid.UUID) {
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
}

// MembersOf returns a snapshot of the room's members, empty for an unknown
// room. Fan-out iterates over this copy, never the live set, so a join or
// leave racing a broadcast can never corrupt delivery mid-iteration.
func (d *RoomDirectory) MembersOf(roomID string) []uuid.UUID {
	members := d.rooms[roomID]
	snapshot := make([]uuid.UUID, 0, len(members))
	for connID := range members {
		snapshot = append(snapshot, connID)
	}
	return snapshot
}

// MemberCount returns the member count, zero for an unknown room.
func (d *RoomDirectory) MemberCount(roomID string) int {
	return len(d.rooms[roomID])
}

// RemoveEverywhere removes a connection from every room it is in, deleting
// rooms left empty. Safe to call for a connection that joined nothing.
func (d *RoomDirectory) RemoveEverywhere(connID uuid.UUID) {
	for roomID, members := range d.rooms {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(d.rooms, roomID)
		}
	}
}

// RoomCount returns the number of non-empty rooms.
func (d *RoomDirectory) RoomCount() int {
	return len(d.rooms)
}

// Snapshot lists every room with its member count.
func (d *RoomDirectory) Snapshot() []RoomStat {
	stats := make([]RoomStat, 0, len(d.rooms))
	for roomID, members := range d.rooms {
		stats = append(stats, RoomStat{RoomID: roomID, ClientCount: len(members)})
	}
	return stats
}
