package realtime

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// UserRoom returns the per-user room name used for targeted delivery.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// Rooms tracks which connections are joined to which broadcast scopes. A room
// has no lifecycle of its own beyond the connections currently in it.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewRooms creates an empty room membership table.
func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[string]struct{})}
}

// Join subscribes a connection to a room.
func (r *Rooms) Join(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[room]
	if !ok {
		set = make(map[string]struct{})
		r.members[room] = set
	}
	set[connID] = struct{}{}
}

// LeaveAll removes a connection from every room it joined, pruning rooms
// that become empty.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room, set := range r.members {
		if _, ok := set[connID]; !ok {
			continue
		}
		delete(set, connID)
		if len(set) == 0 {
			delete(r.members, room)
		}
	}
}

// Members returns the connection ids currently joined to a room.
func (r *Rooms) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.members[room])
}

// MemberCount returns the number of connections in a room.
func (r *Rooms) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}
