package signaling

import "sync"

// Member is one (userID, peer) entry of a room snapshot.
type Member struct {
	UserID string
	Peer   *Peer
}

type room struct {
	members map[string]*Peer
	order   []string // join order; drives existing-users and ready roles
}

// Registry owns the room -> userID -> peer structure. It is the only
// component that mutates room membership; the router reads it through
// point-in-time snapshots.
//
// Invariant: a room is present iff it has at least one member. This holds
// after every operation, not just eventually.
//
// A single mutex guards all rooms. Room counts are small enough that
// per-room locking has not been worth the complexity.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// AddMember registers p as the member userID of roomID, creating the room
// lazily. It returns the membership as it was immediately before the join
// (excluding any prior entry for userID), the superseded peer for userID
// if one existed (last writer wins), and the member count after the join.
//
// Returning the prior membership from the same critical section keeps the
// existing-users reply consistent with concurrent joins on other
// connections.
func (r *Registry) AddMember(roomID, userID string, p *Peer) (existing []Member, evicted *Peer, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]*Peer)}
		r.rooms[roomID] = rm
	}

	for _, id := range rm.order {
		if id == userID {
			continue
		}
		existing = append(existing, Member{UserID: id, Peer: rm.members[id]})
	}

	if prev, ok := rm.members[userID]; ok {
		if prev != p {
			evicted = prev
		}
	} else {
		rm.order = append(rm.order, userID)
	}
	rm.members[userID] = p

	return existing, evicted, len(rm.members)
}

// RemoveMember removes the (roomID, userID) entry, but only while it still
// points at p. The guard makes teardown of a superseded connection a no-op
// with respect to the member that replaced it.
//
// empty reports whether the room was deleted because p was its last member.
func (r *Registry) RemoveMember(roomID, userID string, p *Peer) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}
	if rm.members[userID] != p {
		return false, false
	}

	delete(rm.members, userID)
	for i, id := range rm.order {
		if id == userID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		return true, true
	}
	return true, false
}

// MembersOf returns a point-in-time snapshot of the room's membership in
// join order. The snapshot is safe to iterate while other connections
// join and leave.
func (r *Registry) MembersOf(roomID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(rm.order))
	for _, id := range rm.order {
		members = append(members, Member{UserID: id, Peer: rm.members[id]})
	}
	return members
}

// Lookup returns the peer registered as (roomID, userID), or nil.
func (r *Registry) Lookup(roomID, userID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.members[userID]
}

// Counts reports the number of rooms and total members across all rooms.
func (r *Registry) Counts() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		members += len(rm.members)
	}
	return rooms, members
}
