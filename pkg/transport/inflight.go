package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running prompt cycles by project ID. At most one
// cycle runs per project so that every merge starts from the files the
// previous cycle committed. A running cycle can be cancelled by ID.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	cancel context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]*inflightEntry),
	}
}

// Acquire registers a cycle for id and returns the function that ends
// it. It returns false, without registering, if a cycle for id is
// already running. The release function only removes its own entry, so
// a late release never evicts a cycle registered after a Cancel.
func (r *InFlightRegistry) Acquire(id string, cancel context.CancelFunc) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.entries[id]; busy {
		return nil, false
	}
	e := &inflightEntry{cancel: cancel}
	r.entries[id] = e
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
	}, true
}

// Cancel cancels the running cycle for id by calling its cancel function.
// Returns true if a cycle was found, false if none was registered.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, id)
	return true
}

// Len returns the number of running cycles.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
