package session

import (
	"sync"
	"time"
)

// Action is one recorded user-level interaction.
type Action struct {
	Type      string    `json:"type"`
	Selector  string    `json:"selector,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionLog is an append-only record of a session's interactions.
type ActionLog struct {
	mu      sync.RWMutex
	actions []Action
}

// Append records an action stamped with the current time.
func (l *ActionLog) Append(typ, selector, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, Action{
		Type:      typ,
		Selector:  selector,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Actions returns a copy of the log in recording order.
func (l *ActionLog) Actions() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Action(nil), l.actions...)
}

// Len returns the number of recorded actions.
func (l *ActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions)
}
