package membership

import (
	"slices"
	"sync"
)

// Tracker maintains the live user list of the current room. The list is
// replaced wholesale from inbound system frames; it is never merged
// field-by-field. After a connection closes the list is Unavailable,
// which is distinct from an empty room.
type Tracker struct {
	mu        sync.RWMutex
	room      string
	users     []string
	available bool
}

// NewTracker creates a Tracker with no room and no snapshot.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetRoom switches tracking to a new room. Any previous snapshot is
// dropped and the list becomes Unavailable until a frame for the new
// room arrives.
func (t *Tracker) SetRoom(room string) {
	t.mu.Lock()
	t.room = room
	t.users = nil
	t.available = false
	t.mu.Unlock()
}

// Apply replaces the snapshot with the given user list. The snapshot is
// taken only if room matches the tracked room, which guards against a
// stale frame from a superseded connection. Returns true if applied.
func (t *Tracker) Apply(room string, users []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room != t.room {
		return false
	}
	t.users = slices.Clone(users)
	t.available = true
	return true
}

// MarkUnavailable drops the snapshot without forgetting the room. Used
// on connection close, when the room's user list is no longer known.
func (t *Tracker) MarkUnavailable() {
	t.mu.Lock()
	t.users = nil
	t.available = false
	t.mu.Unlock()
}

// Room returns the currently tracked room.
func (t *Tracker) Room() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.room
}

// Current returns the ordered user list and whether a snapshot is
// available. When the second return is false the list is unknown, not
// empty.
func (t *Tracker) Current() ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.available {
		return nil, false
	}
	return slices.Clone(t.users), true
}

// Count returns the number of users in the snapshot, or 0 when the
// snapshot is unavailable.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.available {
		return 0
	}
	return len(t.users)
}
