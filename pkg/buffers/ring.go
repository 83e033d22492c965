// Package buffers provides the bounded event buffers kept per browser session.
package buffers

import "sync"

// Ring is a fixed-capacity FIFO buffer. When full, each write evicts the
// oldest entry. Safe for concurrent use.
type Ring[T any] struct {
	mu       sync.RWMutex
	entries  []T
	head     int
	full     bool
	capacity int
	total    int64
}

// NewRing creates a ring holding at most capacity entries. A capacity below
// one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		entries:  make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an entry.
func (r *Ring[T]) Add(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
	if r.head == 0 {
		r.full = true
	}
	r.total++
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.capacity
	}
	return r.head
}

// Total returns how many entries were ever added, including evicted ones.
func (r *Ring[T]) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Entries returns the retained entries, oldest first.
func (r *Ring[T]) Entries() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		return append([]T(nil), r.entries[:r.head]...)
	}
	out := make([]T, 0, r.capacity)
	out = append(out, r.entries[r.head:]...)
	return append(out, r.entries[:r.head]...)
}

// Last returns up to n of the newest entries that satisfy keep, oldest first.
// A nil keep accepts everything; n <= 0 means no limit.
func (r *Ring[T]) Last(n int, keep func(T) bool) []T {
	all := r.Entries()
	var out []T
	for i := len(all) - 1; i >= 0; i-- {
		if keep != nil && !keep(all[i]) {
			continue
		}
		out = append(out, all[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Clear drops every entry.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.head = 0
	r.full = false
}
