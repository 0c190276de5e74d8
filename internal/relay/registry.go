package relay

import (
	"sort"
	"sync"
)

type memberSet map[*Participant]struct{}

// Registry maps room ids to the participants currently connected to them.
// A single RWMutex guards every room, so a broadcast snapshot never observes a
// half-applied join or leave.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]memberSet
	evictEmpty bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEmptyRoomEviction controls whether a room entry is dropped as soon as its
// last member leaves. When disabled, empty rooms are retained.
func WithEmptyRoomEviction(enabled bool) RegistryOption {
	return func(r *Registry) {
		r.evictEmpty = enabled
	}
}

// NewRegistry creates an empty registry. Empty rooms are evicted by default.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:      make(map[string]memberSet),
		evictEmpty: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddMember inserts p into roomID, creating the room if needed, and returns the
// room's member count afterwards.
func (r *Registry) AddMember(roomID string, p *Participant) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(memberSet)
		r.rooms[roomID] = members
	}
	members[p] = struct{}{}
	return len(members)
}

// RemoveMember removes p from roomID. It returns false when p was not a member,
// which makes repeated calls harmless.
func (r *Registry) RemoveMember(roomID string, p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[p]; !exists {
		return false
	}

	delete(members, p)
	if len(members) == 0 && r.evictEmpty {
		delete(r.rooms, roomID)
	}
	return true
}

// Members returns a snapshot of roomID's participants. The slice is owned by
// the caller and unaffected by later joins or leaves.
func (r *Registry) Members(roomID string) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	snapshot := make([]*Participant, 0, len(members))
	for p := range members {
		snapshot = append(snapshot, p)
	}
	return snapshot
}

// MemberCount returns the number of participants in roomID.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of room entries, including retained empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns the known room ids in sorted order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
