// Package session holds live automation sessions, their surfaces and the
// process-wide registry that addresses them by id.
//
// The registry starts empty, grows on launch and shrinks on close. It is never
// persisted: sessions wrap processes that cannot outlive the server.
package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps session ids to live sessions. It performs no I/O; its lock
// only guards the maps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	removed  map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		removed:  make(map[string]struct{}),
	}
}

// Create registers s under its id. Ids must be fresh: reusing a live or
// previously removed id is a programming error and panics.
func (r *Registry) Create(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		panic(fmt.Sprintf("session: duplicate session id %q", s.ID))
	}
	if _, reused := r.removed[s.ID]; reused {
		panic(fmt.Sprintf("session: session id %q was already used", s.ID))
	}
	r.sessions[s.ID] = s
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, &SessionNotFoundError{ID: id}
	}
	return s, nil
}

// Remove forgets a session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	r.removed[id] = struct{}{}
}

// WasRemoved reports whether id belonged to a session that has been removed.
func (r *Registry) WasRemoved(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.removed[id]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns live sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Drain removes and returns every live session, for shutdown.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
		r.removed[id] = struct{}{}
	}
	return out
}
