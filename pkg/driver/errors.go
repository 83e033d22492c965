package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/session"
)

// LaunchError reports a launch that could not produce a usable session,
// either because a required option was missing or the engine failed to start.
type LaunchError struct {
	Kind   session.Kind
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("launch %s: %s", e.Kind, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// EvaluationError reports a script that failed to parse or threw.
type EvaluationError struct {
	Message string
	Script  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed: %s\nscript:\n%s", e.Message, e.Script)
}

// TimeoutError reports an operation that exceeded its bound.
type TimeoutError struct {
	Op      Op
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UnsupportedOperationError reports an operation the driver kind does not offer.
type UnsupportedOperationError struct {
	Op   Op
	Kind session.Kind
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %q is not supported by %s sessions", e.Op, e.Kind)
}

// DriverError wraps an engine fault that has no more specific type.
type DriverError struct {
	Op  Op
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// wrapErr classifies an engine error for op. Errors that already carry a
// taxonomy type pass through unchanged.
func wrapErr(op Op, err error) error {
	if err == nil {
		return nil
	}

	var (
		launchErr  *LaunchError
		evalErr    *EvaluationError
		timeoutErr *TimeoutError
		unsupErr   *UnsupportedOperationError
		driverErr  *DriverError
		surfaceErr *session.SurfaceNotFoundError
		sessionErr *session.SessionNotFoundError
	)
	switch {
	case errors.As(err, &launchErr), errors.As(err, &evalErr), errors.As(err, &timeoutErr),
		errors.As(err, &unsupErr), errors.As(err, &driverErr), errors.As(err, &surfaceErr),
		errors.As(err, &sessionErr):
		return err
	case errors.Is(err, engine.ErrTimeout):
		return &TimeoutError{Op: op, Err: err}
	}
	return &DriverError{Op: op, Err: err}
}
