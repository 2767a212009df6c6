package collab

import (
	"sort"
	"sync"
)

// RoomRegistry tracks live room membership by connection id. An empty room is removed
// together with its cursor map.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{}
	cursors *CursorTracker
}

func NewRoomRegistry(cursors *CursorTracker) *RoomRegistry {
	return &RoomRegistry{
		rooms:   make(map[string]map[string]struct{}),
		cursors: cursors,
	}
}

// Join adds connID to roomID. It reports false if the connection was already a member.
func (r *RoomRegistry) Join(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}
	return true
}

// Leave removes connID from roomID. removed is false when it was not a member; empty is true
// when the room was deleted as a result.
func (r *RoomRegistry) Leave(roomID, connID string) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, exists := members[connID]; !exists {
		return false, false
	}

	delete(members, connID)
	if len(members) > 0 {
		return true, false
	}

	delete(r.rooms, roomID)
	if r.cursors != nil {
		r.cursors.dropRoom(roomID)
	}
	return true, true
}

func (r *RoomRegistry) IsMember(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID][connID]
	return ok
}

// MembersOf returns the connection ids in roomID, sorted.
func (r *RoomRegistry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveRooms returns the member count per live room.
func (r *RoomRegistry) ActiveRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for id, members := range r.rooms {
		rooms[id] = len(members)
	}
	return rooms
}
