package fleet

import (
	"sort"
	"sync"
)

// Registry is the set of robot ids that have announced the end of their turn.
// It is written by the transport receive goroutine and read by the wait loop.
// The set only grows.
type Registry struct {
	ids map[int]struct{}
	mu  sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		ids: make(map[int]struct{}),
		mu:  sync.RWMutex{},
	}
}

// Add inserts id and reports whether it was new. Repeated ids are ignored.
func (r *Registry) Add(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[id]; exists {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// Size returns the number of distinct ids registered.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Contains reports whether id has been registered.
func (r *Registry) Contains(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.ids[id]
	return exists
}

// IDs returns a sorted copy of the registered ids.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
