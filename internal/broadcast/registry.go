package broadcast

import "sync"

// Registry is the set of live clients. Iteration works on a snapshot so
// registration never waits on a fan-out.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]struct{})}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Unregister reports whether the client was still registered.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *Registry) Snapshot(role Role) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c.role == role {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) ForEach(role Role, fn func(*Client)) {
	for _, c := range r.Snapshot(role) {
		fn(c)
	}
}

func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.clients {
		if c.role == role {
			n++
		}
	}
	return n
}
