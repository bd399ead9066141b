package viewport

import (
	"sync"

	"github.com/google/uuid"
)

// Registry owns one Coordinator per document in the active set. A
// coordinator is created with default state when its document first becomes
// active and discarded when the document leaves the set, so re-activating a
// document after a swap starts from defaults again.
type Registry struct {
	mu     sync.Mutex
	opts   Options
	coords map[uuid.UUID]*Coordinator
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:   opts,
		coords: make(map[uuid.UUID]*Coordinator),
	}
}

// Activate returns the coordinator for docID, creating it if the document
// was not active yet.
func (r *Registry) Activate(docID uuid.UUID) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coords[docID]; ok {
		return c
	}
	c := NewCoordinator(docID, r.opts)
	r.coords[docID] = c
	return c
}

// Get returns the coordinator for docID, nil when the document is not
// active.
func (r *Registry) Get(docID uuid.UUID) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coords[docID]
}

// Release discards the coordinator for docID.
func (r *Registry) Release(docID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coords, docID)
}

// Swap replaces the active document identity: the old coordinator is
// discarded and a fresh one with default state is created for the new
// document.
func (r *Registry) Swap(oldID, newID uuid.UUID) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coords, oldID)
	c := NewCoordinator(newID, r.opts)
	r.coords[newID] = c
	return c
}
