package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/buffers"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/security/workspace"
)

// Kind tags the driver that owns a session.
type Kind string

const (
	KindWeb      Kind = "web"
	KindElectron Kind = "electron"
)

// DialogPolicy decides how native dialogs are answered.
type DialogPolicy struct {
	Accept     bool   `json:"accept"`
	PromptText string `json:"promptText,omitempty"`
}

// Extension carries driver specific session state. Implemented only by
// *WebExt and *ElectronExt.
type Extension interface {
	kind() Kind
}

// WebExt is the state a browser session keeps beyond the common base.
type WebExt struct {
	Browser string
	Console *buffers.Ring[engine.ConsoleMessage]
	Network *buffers.Ring[engine.NetworkEvent]
}

func (*WebExt) kind() Kind { return KindWeb }

// ElectronExt is the state an Electron session keeps beyond the common base.
type ElectronExt struct {
	ExecutablePath string
	WorkingDir     string
	// Files confines readFile/writeFile to the application directory.
	Files *workspace.Guard
}

func (*ElectronExt) kind() Kind { return KindElectron }

// Session is one live automation target.
type Session struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	// Engine is exclusively owned by this session.
	Engine engine.Context

	// AutoSnapshot appends a snapshot to the result of mutating operations.
	AutoSnapshot bool

	Actions *ActionLog
	Ext     Extension

	mu         sync.Mutex
	surfaces   map[string]*Surface
	order      []string
	active     string
	counters   map[string]int
	dialog     *DialogPolicy
	lastUsedAt time.Time
}

// New builds a session around an engine context and its first page, which
// becomes the active "main" surface. The extension must match kind.
func New(id string, kind Kind, ctx engine.Context, main engine.Page, ext Extension) *Session {
	if ext == nil || ext.kind() != kind {
		panic(fmt.Sprintf("session: extension does not match kind %q", kind))
	}
	now := time.Now()
	s := &Session{
		ID:         id,
		Kind:       kind,
		CreatedAt:  now,
		Engine:     ctx,
		Actions:    &ActionLog{},
		Ext:        ext,
		surfaces:   make(map[string]*Surface),
		counters:   make(map[string]int),
		lastUsedAt: now,
	}
	s.surfaces[MainSurfaceID] = newSurface(MainSurfaceID, main)
	s.order = append(s.order, MainSurfaceID)
	s.active = MainSurfaceID
	return s
}

// Web returns the browser extension, or nil for other kinds.
func (s *Session) Web() *WebExt {
	ext, _ := s.Ext.(*WebExt)
	return ext
}

// Electron returns the Electron extension, or nil for other kinds.
func (s *Session) Electron() *ElectronExt {
	ext, _ := s.Ext.(*ElectronExt)
	return ext
}

// Touch updates the last used timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsedAt = time.Now()
}

// LastUsedAt returns when the session last served an operation.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Surface returns the surface with the given id, or the active one when id is empty.
func (s *Session) Surface(id string) (*Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		if s.active == "" {
			return nil, ErrNoSurfaces
		}
		id = s.active
	}
	sf, ok := s.surfaces[id]
	if !ok {
		return nil, &SurfaceNotFoundError{SessionID: s.ID, SurfaceID: id}
	}
	return sf, nil
}

// Surfaces returns every surface in creation order.
func (s *Session) Surfaces() []*Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Surface, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.surfaces[id])
	}
	return out
}

// ActiveID returns the active surface id, empty when none remain.
func (s *Session) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Usable reports whether the session still has an active surface.
func (s *Session) Usable() bool {
	return s.ActiveID() != ""
}

// AddSurface registers a page under the next "<prefix>-N" id. The active
// surface is unchanged unless the session had none.
func (s *Session) AddSurface(prefix string, page engine.Page) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSurfaceLocked(prefix, page)
}

func (s *Session) addSurfaceLocked(prefix string, page engine.Page) *Surface {
	var id string
	for {
		s.counters[prefix]++
		id = fmt.Sprintf("%s-%d", prefix, s.counters[prefix])
		if _, taken := s.surfaces[id]; !taken {
			break
		}
	}
	sf := newSurface(id, page)
	s.surfaces[id] = sf
	s.order = append(s.order, id)
	if s.active == "" {
		s.active = id
	}
	return sf
}

// Activate makes id the active surface.
func (s *Session) Activate(id string) (*Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.surfaces[id]
	if !ok {
		return nil, &SurfaceNotFoundError{SessionID: s.ID, SurfaceID: id}
	}
	s.active = id
	return sf, nil
}

// RemoveSurface forgets a surface. When it was active, the first remaining
// surface becomes active; with none left the session becomes unusable.
func (s *Session) RemoveSurface(id string) (*Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.surfaces[id]
	if !ok {
		return nil, &SurfaceNotFoundError{SessionID: s.ID, SurfaceID: id}
	}
	s.removeLocked(id)
	return sf, nil
}

func (s *Session) removeLocked(id string) {
	delete(s.surfaces, id)
	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == id {
		s.active = ""
		if len(s.order) > 0 {
			s.active = s.order[0]
		}
	}
}

// Reconcile aligns the surface map with the engine's live pages. Unknown pages
// are added under prefix; surfaces whose page is gone are dropped.
func (s *Session) Reconcile(live []engine.Page, prefix string) (added, removed []*Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveIDs := make(map[string]engine.Page, len(live))
	for _, p := range live {
		liveIDs[p.ID()] = p
	}

	known := make(map[string]bool, len(s.surfaces))
	for _, id := range append([]string(nil), s.order...) {
		sf := s.surfaces[id]
		pageID := sf.Page.ID()
		if _, ok := liveIDs[pageID]; !ok {
			s.removeLocked(id)
			removed = append(removed, sf)
			continue
		}
		known[pageID] = true
	}

	for _, p := range live {
		if known[p.ID()] {
			continue
		}
		added = append(added, s.addSurfaceLocked(prefix, p))
	}
	return added, removed
}

// SetDialogPolicy replaces the session's dialog policy.
func (s *Session) SetDialogPolicy(p DialogPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialog = &p
}

// DialogPolicy returns the current policy and whether one was set.
func (s *Session) DialogPolicy() (DialogPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialog == nil {
		return DialogPolicy{}, false
	}
	return *s.dialog, true
}

// Info is a point-in-time description of a session.
type Info struct {
	ID         string    `json:"sessionId"`
	Kind       Kind      `json:"kind"`
	Surfaces   []string  `json:"surfaces"`
	Active     string    `json:"activeSurface"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Info snapshots the session's metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.ID,
		Kind:       s.Kind,
		Surfaces:   append([]string(nil), s.order...),
		Active:     s.active,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.lastUsedAt,
	}
}
