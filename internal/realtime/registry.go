package realtime

import (
	"sync"

	"github.com/samber/lo"
)

// Registry maps a user id to the set of currently open connection ids for
// that user. A user key exists iff at least one of their connections is still
// open; presence is derived directly from that invariant.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[int64]map[string]struct{})}
}

// Add records that a connection belongs to a user. Calling it twice with the
// same pair is a no-op (set semantics).
func (r *Registry) Add(userID int64, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
}

// Remove deletes a connection id from whichever user owns it, pruning the
// user's entry when their last connection goes away. Unknown ids are a no-op.
// This is a linear scan over users; presence is a convenience feature, not a
// hot path.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, set := range r.users {
		if _, ok := set[connID]; !ok {
			continue
		}
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}
}

// IsOnline reports whether a user has at least one open connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionCount returns the number of open connections for a user.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// OnlineUsers returns the ids of every user with an open connection.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.users)
}

// Size returns the number of users currently tracked.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
