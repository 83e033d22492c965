package dispatch

import "fmt"

// ValidationError reports a call rejected before any session was touched:
// an unknown operation, a missing required argument or a mistyped one.
type ValidationError struct {
	Op     string
	Arg    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("invalid call to %q: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("invalid call to %q: argument %q %s", e.Op, e.Arg, e.Reason)
}
