package command

import (
	"sync"
)

// Registry indexes commands by ID with a bounded history. When the bound is
// exceeded the oldest non-running command is evicted; running commands are
// never evicted since their monitors still reference them.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*State
	order      []string // insertion order, oldest first
	maxEntries int
}

// NewRegistry creates a registry bounded to maxEntries commands.
func NewRegistry(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Registry{
		byID:       make(map[string]*State),
		order:      make([]string, 0, 16),
		maxEntries: maxEntries,
	}
}

// Add registers a command, evicting the oldest finished command if full.
func (r *Registry) Add(st *State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) >= r.maxEntries {
		r.evictOldestLocked()
	}
	r.byID[st.ID()] = st
	r.order = append(r.order, st.ID())
}

// Get returns the command with the given ID.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byID[id]
	return st, ok
}

// Last returns the most recently added command.
func (r *Registry) Last() (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	st := r.byID[r.order[len(r.order)-1]]
	return st, st != nil
}

// List returns snapshots of all tracked commands, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		if st, ok := r.byID[id]; ok {
			out = append(out, st.Snapshot())
		}
	}
	return out
}

// Len returns the number of tracked commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) evictOldestLocked() {
	for i, id := range r.order {
		st := r.byID[id]
		if st != nil && st.IsRunning() {
			continue
		}
		delete(r.byID, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
		return
	}
	// Everything is somehow still running; drop the oldest anyway to
	// honor the bound.
	delete(r.byID, r.order[0])
	r.order = r.order[1:]
}
