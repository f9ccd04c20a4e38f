package model

import (
	"sort"
	"sync"
)

// Registry stores resolved checkpoints keyed by reference.
type Registry struct {
	checkpoints map[string]*Checkpoint
	mu          sync.RWMutex
}

// NewRegistry creates a new checkpoint registry.
func NewRegistry() *Registry {
	return &Registry{
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Set adds a checkpoint to the registry.
func (r *Registry) Set(c *Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkpoints[c.Ref] = c
}

// Get returns the checkpoint with the given reference.
func (r *Registry) Get(ref string) (*Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.checkpoints[ref]
	return c, ok
}

// List returns all checkpoints ordered by reference.
func (r *Registry) List() []*Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Checkpoint, 0, len(r.checkpoints))
	for _, c := range r.checkpoints {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Ref < list[j].Ref })

	return list
}

// Delete deletes the checkpoint with the given reference.
func (r *Registry) Delete(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checkpoints, ref)
}
