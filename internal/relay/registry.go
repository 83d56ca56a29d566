package relay

import (
	"errors"
	"sync"
)

// ErrIDSpaceExhausted means Register could not find a free identifier.
var ErrIDSpaceExhausted = errors.New("relay: member id space exhausted")

const maxIDAttempts = 8

// Registry owns every live connection, keyed by member id.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	newID   func() string
	newName func() string
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		newID:   newID,
		newName: newPseudonym,
	}
}

// Register assigns c a unique id and a random pseudonym and takes ownership of it.
func (r *Registry) Register(c *Client) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id := r.newID()
		if _, taken := r.clients[id]; taken {
			continue
		}
		c.ID = id
		c.Pseudonym = r.newName()
		r.clients[id] = c
		return id, nil
	}
	return "", ErrIDSpaceExhausted
}

// Unregister is idempotent; unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns every registered connection at this instant.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
