// Package registry keeps the stream id → handle table of a session.
package registry

import (
	"slices"
	"sync"
)

// Registry maps stream ids to opaque handles. Ids are unique and keep their
// insertion order. It is safe for concurrent use, although the connection
// machine only touches it from its own loop.
type Registry[H any] struct {
	mu    sync.Mutex
	table map[string]H
	order []string
}

// New creates an empty registry.
func New[H any]() *Registry[H] {
	return &Registry[H]{
		table: make(map[string]H),
	}
}

// Add stores h under id. It returns false and leaves the table unchanged when
// id is already present.
func (r *Registry[H]) Add(id string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.table[id]; exists {
		return false
	}
	r.table[id] = h
	r.order = append(r.order, id)
	return true
}

// Remove deletes id and returns its handle, if it was present.
func (r *Registry[H]) Remove(id string) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.table[id]
	if !ok {
		var zero H
		return zero, false
	}
	delete(r.table, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return h, true
}

// Contains reports whether id is registered.
func (r *Registry[H]) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.table[id]
	return ok
}

// Get looks up the handle for id.
func (r *Registry[H]) Get(id string) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.table[id]
	return h, ok
}

// Len returns the number of registered streams.
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// IDs returns the registered ids in insertion order.
func (r *Registry[H]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Handles returns the registered handles in insertion order.
func (r *Registry[H]) Handles() []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]H, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.table[id])
	}
	return out
}

// Clear empties the registry and returns the handles it held, in insertion
// order. The caller owns releasing them.
func (r *Registry[H]) Clear() []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]H, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.table[id])
	}
	r.table = make(map[string]H)
	r.order = nil
	return out
}
