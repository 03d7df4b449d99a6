package main

import (
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
)

var errRoomLimit = errors.New("room limit reached")

// Registry is the bounded set of live rooms. It never exceeds maxRooms:
// creation beyond the cap fails closed and the caller refuses the
// connection. The registry does no eviction of its own; empty rooms are
// removed by the sync handler.
type Registry struct {
	maxRooms int
	clock    clockwork.Clock

	mu     sync.RWMutex
	rooms  map[string]*Room
	pinned map[string]bool
}

func NewRegistry(maxRooms int, clock clockwork.Clock) *Registry {
	return &Registry{
		maxRooms: maxRooms,
		clock:    clock,
		rooms:    make(map[string]*Room),
		pinned:   make(map[string]bool),
	}
}

// GetOrCreate returns the room, creating it with a default playback state
// if absent. Creating room maxRooms+1 fails with errRoomLimit; existing
// rooms are unaffected.
func (reg *Registry) GetOrCreate(roomID string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[roomID]; ok {
		return room, nil
	}
	if len(reg.rooms) >= reg.maxRooms {
		return nil, errRoomLimit
	}
	room := NewRoom(roomID, reg.clock)
	reg.rooms[roomID] = room
	return room, nil
}

func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomID]
	return room, ok
}

// Remove drops a room unless it is pinned. Removal of an absent room is a
// no-op.
func (reg *Registry) Remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.pinned[roomID] {
		return
	}
	delete(reg.rooms, roomID)
}

// RemoveIfEmpty drops a room only if it is still the registered room for
// its id, has no members, and is not pinned. The emptiness check and the
// delete are one atomic step with respect to GetOrCreate, so a join racing
// a teardown either keeps the room alive or finds it gone and re-creates
// it — never a seat in an unregistered room.
func (reg *Registry) RemoveIfEmpty(room *Room) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.pinned[room.ID()] || reg.rooms[room.ID()] != room {
		return false
	}
	if room.MemberCount() > 0 {
		return false
	}
	delete(reg.rooms, room.ID())
	return true
}

// Pin marks a room as administratively pinned: it is never torn down when
// its connection set empties.
func (reg *Registry) Pin(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.pinned[roomID] = true
}

func (reg *Registry) Pinned(roomID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.pinned[roomID]
}

// All snapshots the current rooms, for startup hydration checks, periodic
// checkpoints and the shutdown flush.
func (reg *Registry) All() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
