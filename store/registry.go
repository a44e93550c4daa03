package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry is an in-process connection registry. It holds every configured
// store under its connection id.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Connection
	stores map[string]Store
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Connection),
		stores: make(map[string]Store),
	}
}

// Register adds or replaces a connection.
func (r *Registry) Register(conn Connection, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	r.stores[conn.ID] = s
}

// Store implements Connections.
func (r *Registry) Store(_ context.Context, id string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	return s, nil
}

// Describe implements Connections.
func (r *Registry) Describe(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	return conn, nil
}

// All returns every registered connection ordered by id.
func (r *Registry) All() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
