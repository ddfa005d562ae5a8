package maint

import (
	"sync"

	"github.com/hupe1980/arengo/internal/arena"
)

// Registry tracks live arenas for the background workers. Arenas register
// at creation and unregister when retired.
type Registry struct {
	mu     sync.RWMutex
	arenas map[uint64]*arena.Arena
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{arenas: make(map[uint64]*arena.Arena)}
}

// Register adds an arena to the registry.
func (r *Registry) Register(a *arena.Arena) {
	r.mu.Lock()
	r.arenas[a.ID()] = a
	r.mu.Unlock()
}

// Unregister removes an arena from the registry.
func (r *Registry) Unregister(a *arena.Arena) {
	r.mu.Lock()
	delete(r.arenas, a.ID())
	r.mu.Unlock()
}

// Snapshot returns the currently registered arenas.
func (r *Registry) Snapshot() []*arena.Arena {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*arena.Arena, 0, len(r.arenas))
	for _, a := range r.arenas {
		out = append(out, a)
	}
	return out
}

// Len returns the number of registered arenas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arenas)
}
