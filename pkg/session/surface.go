package session

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/entrhq/pilot/pkg/engine"
)

// MainSurfaceID names the surface captured at launch.
const MainSurfaceID = "main"

// Ref describes an accessibility node captured by a snapshot.
type Ref struct {
	ID       string `json:"ref" yaml:"ref"`
	Role     string `json:"role" yaml:"role"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Level    int    `json:"level" yaml:"level"`
	Selector string `json:"selector" yaml:"selector"`
}

// Surface is one tab or window inside a session.
type Surface struct {
	ID   string
	Page engine.Page

	mu    sync.RWMutex
	title string
	url   string
	refs  map[string]Ref
}

func newSurface(id string, page engine.Page) *Surface {
	return &Surface{
		ID:   id,
		Page: page,
		url:  page.URL(),
		refs: make(map[string]Ref),
	}
}

// Title returns the cached document title.
func (s *Surface) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// URL returns the cached location.
func (s *Surface) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// Navigated records a new location and drops every ref, since refs only
// describe the document they were taken from.
func (s *Surface) Navigated(title, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.url = url
	s.refs = make(map[string]Ref)
}

// SetLocation refreshes the cached title and url without touching refs.
func (s *Surface) SetLocation(title, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.url = url
}

// ReplaceRefs overwrites the ref table with the result of a new snapshot.
func (s *Surface) ReplaceRefs(refs []Ref) {
	table := make(map[string]Ref, len(refs))
	for _, r := range refs {
		table[r.ID] = r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = table
}

// ClearRefs empties the ref table.
func (s *Surface) ClearRefs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = make(map[string]Ref)
}

// LookupRef resolves a ref token such as "e12".
func (s *Surface) LookupRef(id string) (Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refs[id]
	return r, ok
}

// Refs returns the current table ordered by ref number.
func (s *Surface) Refs() []Ref {
	s.mu.RLock()
	out := make([]Ref, 0, len(s.refs))
	for _, r := range s.refs {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return refNumber(out[i].ID) < refNumber(out[j].ID)
	})
	return out
}

// IsRef reports whether a selector argument is a ref token (e1, e2, ...).
func IsRef(selector string) bool {
	return refNumber(selector) > 0
}

func refNumber(id string) int {
	if !strings.HasPrefix(id, "e") || len(id) < 2 {
		return 0
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
