package relay

import (
	"errors"
	"sync"
)

// ErrRoomMismatch is returned when a member tries to join a room other than
// the one it was assigned at connect time.
var ErrRoomMismatch = errors.New("relay: member belongs to a different room")

// room is one broadcast domain. Its lock serializes membership changes with
// the reads used for broadcasting.
type room struct {
	mu      sync.Mutex
	members []*Client // join order
	dead    bool      // pruned from the Directory; guarded by mu
}

func (r *room) indexOf(id string) int {
	for i, c := range r.members {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Directory maps room ids to their members. The directory lock only guards
// the map; all per-room work happens under that room's own lock.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*room)}
}

// acquire returns the live room for id, creating it if needed.
func (d *Directory) acquire(id string) *room {
	d.mu.RLock()
	r := d.rooms[id]
	d.mu.RUnlock()
	if r != nil {
		return r
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r = d.rooms[id]; r == nil {
		r = &room{}
		d.rooms[id] = r
	}
	return r
}

func (d *Directory) lookup(id string) *room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// Join adds c to roomID, creating the room on first use. Joining twice is a no-op.
func (d *Directory) Join(roomID string, c *Client) error {
	if c == nil || c.ID == "" {
		return nil
	}
	if c.RoomID != roomID {
		return ErrRoomMismatch
	}

	for {
		r := d.acquire(roomID)
		r.mu.Lock()
		if r.dead {
			// lost a race with pruning; the next acquire sees a fresh room
			r.mu.Unlock()
			d.dropDead(roomID, r)
			continue
		}
		if r.indexOf(c.ID) < 0 {
			r.members = append(r.members, c)
		}
		r.mu.Unlock()
		return nil
	}
}

// Leave removes memberID from roomID and prunes the room once it is empty.
// Unknown rooms or members are ignored.
func (d *Directory) Leave(roomID, memberID string) {
	r := d.lookup(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	if i := r.indexOf(memberID); i >= 0 {
		r.members = append(r.members[:i], r.members[i+1:]...)
	}
	empty := len(r.members) == 0 && !r.dead
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		d.dropDead(roomID, r)
	}
}

func (d *Directory) dropDead(roomID string, r *room) {
	d.mu.Lock()
	if d.rooms[roomID] == r {
		delete(d.rooms, roomID)
	}
	d.mu.Unlock()
}

// Members returns a point-in-time copy of roomID's members in join order.
func (d *Directory) Members(roomID string) []*Client {
	var out []*Client
	d.withRoom(roomID, func(members []*Client) {
		out = append(out, members...)
	})
	return out
}

// withRoom runs fn while holding roomID's lock. fn receives nil for an
// unknown room and must not retain the slice or block.
func (d *Directory) withRoom(roomID string, fn func(members []*Client)) {
	r := d.lookup(roomID)
	if r == nil {
		fn(nil)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		fn(nil)
		return
	}
	fn(r.members)
}

// Len is the number of non-empty rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
