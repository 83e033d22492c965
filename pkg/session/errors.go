package session

import (
	"errors"
	"fmt"
)

// ErrNoSurfaces is returned when every surface of a session has been closed.
// The session stays registered but cannot serve surface operations.
var ErrNoSurfaces = errors.New("session has no open surfaces")

// SessionNotFoundError reports an unknown or already closed session id.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

// SurfaceNotFoundError reports a surface id that the session does not know.
type SurfaceNotFoundError struct {
	SessionID string
	SurfaceID string
}

func (e *SurfaceNotFoundError) Error() string {
	return fmt.Sprintf("surface %q not found in session %q", e.SurfaceID, e.SessionID)
}
