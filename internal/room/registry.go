// Package room tracks which connections belong to which project room.
//
// Membership is the single source of truth for authorising mutation events:
// a connection that is not a member of a room may not mutate tickets in that
// room and does not receive its broadcasts.
//
// Thread-safety: Registry is safe for concurrent use. All mutations happen
// under one mutex, so LeaveAll is atomic with respect to Join for the same
// connection and no reader observes a half-cleaned connection.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/ticketsync/internal/clock"
)

// Member is one connection's presence in a room.
type Member struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Meta is the caller-supplied part of a membership.
type Meta struct {
	UserID      string
	DisplayName string
}

type roomState struct {
	members map[string]Member
	seq     int64
}

// Registry maps room id -> connection id -> Member, plus the reverse index
// used for disconnect cleanup.
type Registry struct {
	mu     sync.Mutex
	clock  clock.Clock
	rooms  map[string]*roomState
	byConn map[string]map[string]struct{}
}

// NewRegistry creates an empty registry. JoinedAt timestamps come from clk.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		clock:  clk,
		rooms:  make(map[string]*roomState),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join upserts a membership. Re-joining refreshes the metadata but keeps the
// original JoinedAt. Returns true when the connection was not already a member.
func (r *Registry) Join(roomID, connID string, meta Meta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomID]
	if !ok {
		rs = &roomState{members: make(map[string]Member)}
		r.rooms[roomID] = rs
	}

	existing, already := rs.members[connID]
	m := Member{
		ConnectionID: connID,
		UserID:       meta.UserID,
		DisplayName:  meta.DisplayName,
		JoinedAt:     r.clock.Now().UTC(),
	}
	if already {
		m.JoinedAt = existing.JoinedAt
	}
	rs.members[connID] = m

	rooms, ok := r.byConn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		r.byConn[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return !already
}

// Leave removes a membership and prunes the room once it is empty. Returns
// false when the connection was not a member; leaving twice is harmless.
func (r *Registry) Leave(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, connID)
}

func (r *Registry) leaveLocked(roomID, connID string) bool {
	rs, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rs.members[connID]; !ok {
		return false
	}
	delete(rs.members, connID)
	if len(rs.members) == 0 {
		delete(r.rooms, roomID)
	}

	if rooms, ok := r.byConn[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room in one critical section and
// returns the rooms it was in, sorted.
func (r *Registry) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.byConn[connID]
	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		left = append(left, roomID)
	}
	sort.Strings(left)
	for _, roomID := range left {
		r.leaveLocked(roomID, connID)
	}
	return left
}

// IsInRoom reports whether connID is currently a member of roomID.
func (r *Registry) IsInRoom(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rs.members[connID]
	return ok
}

// Members returns a snapshot of the room's members ordered by JoinedAt, then
// connection id.
func (r *Registry) Members(roomID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(rs.members))
	for _, m := range rs.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// RoomsOf returns the rooms connID belongs to, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byConn[connID]))
	for roomID := range r.byConn[connID] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Rooms returns every non-empty room id, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// NextSeq stamps the next broadcast sequence number for roomID. Sequence
// numbers are per room and restart when an emptied room is pruned. Returns
// false if the room does not exist.
func (r *Registry) NextSeq(roomID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	rs.seq++
	return rs.seq, true
}

// Clear drops all rooms. Used between test cases.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*roomState)
	r.byConn = make(map[string]map[string]struct{})
}

// Recipients returns the connection ids of members minus sender, in member
// order. This is the sender-exclusion rule of every room broadcast.
func Recipients(members []Member, sender string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m.ConnectionID == sender {
			continue
		}
		out = append(out, m.ConnectionID)
	}
	return out
}
