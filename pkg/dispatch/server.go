// Package dispatch maps named protocol operations onto driver calls.
//
// Every call moves through the same stages: the operation name and required
// arguments are validated, the session is resolved, the driver's capability
// table is consulted, and the handler runs with panics recovered. Whatever
// happens, the caller receives a Response; failures set IsError and carry a
// message naming the operation and the cause.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/driver"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/session"
)

// Outcome classifies a finished call for observers.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeTimeout     Outcome = "timeout"
	OutcomePanic       Outcome = "panic"
	OutcomeError       Outcome = "error"
)

// Observer receives call and session lifecycle notifications.
type Observer interface {
	CallFinished(op string, outcome Outcome, elapsed time.Duration)
	SessionsChanged(live int)
}

type nopObserver struct{}

func (nopObserver) CallFinished(string, Outcome, time.Duration) {}
func (nopObserver) SessionsChanged(int)                         {}

// Operation describes one protocol operation for transports.
type Operation struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Server dispatches calls against a session registry.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	drivers  map[session.Kind]driver.Driver
	ops      map[driver.Op]*opSpec
	order    []*opSpec
	log      *logging.Logger
	observer Observer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithObserver registers an observer for metrics.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// New creates a server over registry with one driver per session kind.
func New(cfg *config.Config, registry *session.Registry, drivers []driver.Driver, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		drivers:  make(map[session.Kind]driver.Driver, len(drivers)),
		ops:      make(map[driver.Op]*opSpec),
		log:      logging.Nop(),
		observer: nopObserver{},
	}
	for _, d := range drivers {
		s.drivers[d.Kind()] = d
	}
	for _, spec := range operations() {
		s.ops[spec.op] = spec
		s.order = append(s.order, spec)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Operations lists every operation in a stable order.
func (s *Server) Operations() []Operation {
	out := make([]Operation, 0, len(s.order))
	for _, spec := range s.order {
		out = append(out, Operation{Name: string(spec.op), Description: spec.description, Schema: spec.schema()})
	}
	return out
}

func (s *Server) kinds() []string {
	out := make([]string, 0, len(s.drivers))
	for k := range s.drivers {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func (s *Server) sessionsChanged() {
	s.observer.SessionsChanged(s.registry.Len())
}

// Call runs one operation. It never panics and never returns nil.
func (s *Server) Call(ctx context.Context, name string, arguments map[string]any) *Response {
	start := time.Now()
	resp, err := s.call(ctx, name, arguments)
	elapsed := time.Since(start)

	if err != nil {
		outcome := classify(err)
		s.observer.CallFinished(name, outcome, elapsed)
		s.log.Warnf("%s failed after %s: %v", name, elapsed.Round(time.Millisecond), err)
		return errorResponse(errorText(name, err))
	}
	s.observer.CallFinished(name, OutcomeOK, elapsed)
	s.log.Debugf("%s completed in %s", name, elapsed.Round(time.Millisecond))
	return resp
}

func (s *Server) call(ctx context.Context, name string, arguments map[string]any) (*Response, error) {
	spec, ok := s.ops[driver.Op(name)]
	if !ok {
		return nil, &ValidationError{Op: name, Reason: "unknown operation"}
	}

	c := &call{srv: s, op: spec.op, args: newArgs(name, arguments)}
	required := spec.required
	if spec.session {
		required = append([]string{"sessionId"}, required...)
	}
	for _, key := range required {
		if c.args.missing(key) {
			return nil, &ValidationError{Op: name, Arg: key, Reason: "is required"}
		}
	}

	if spec.session {
		id := c.args.str("sessionId")
		if c.args.err != nil {
			return nil, c.args.err
		}
		sess, err := s.registry.Get(id)
		if err != nil {
			return nil, err
		}
		drv, ok := s.drivers[sess.Kind]
		if !ok || !drv.Capabilities().Has(spec.op) {
			return nil, &driver.UnsupportedOperationError{Op: spec.op, Kind: sess.Kind}
		}
		c.sess, c.drv = sess, drv
	}

	resp, err := s.invoke(ctx, spec, c)
	if err != nil {
		return nil, err
	}
	if c.sess != nil && c.sess.AutoSnapshot && driver.Mutating(spec.op) {
		s.appendSnapshot(ctx, c, resp)
	}
	return resp, nil
}

// panicError is a handler panic converted into an error.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.value)
}

func (s *Server) invoke(ctx context.Context, spec *opSpec, c *call) (*Response, error) {
	var resp *Response
	err := s.recovered(spec.op, func() (err error) {
		resp, err = spec.handle(ctx, c)
		return err
	})
	return resp, err
}

// recovered runs fn, converting a panic into an error.
func (s *Server) recovered(op driver.Op, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Recovered panic in %s: %v\n%s", op, r, debug.Stack())
			err = &panicError{value: r}
		}
	}()
	return fn()
}

// appendSnapshot enriches a mutating operation's result with a fresh
// snapshot. A failed snapshot is reported in the text, never as a failure of
// the operation that already succeeded.
func (s *Server) appendSnapshot(ctx context.Context, c *call, resp *Response) {
	var snap *driver.Snapshot
	err := s.recovered(driver.OpSnapshot, func() (err error) {
		snap, err = c.drv.Snapshot(ctx, c.sess, c.surface())
		return err
	})
	if err != nil {
		resp.appendText(fmt.Sprintf("Snapshot unavailable: %v", err))
		return
	}
	resp.appendText("Snapshot:\n" + snap.Document)
}

// CloseAll drains the registry and closes every session in parallel. It is
// called once on shutdown.
func (s *Server) CloseAll(ctx context.Context) error {
	sessions := s.registry.Drain()
	s.sessionsChanged()
	if len(sessions) == 0 {
		return nil
	}
	s.log.Infof("Closing %d session(s)", len(sessions))

	var g errgroup.Group
	for _, sess := range sessions {
		g.Go(func() error {
			drv, ok := s.drivers[sess.Kind]
			if !ok {
				return fmt.Errorf("session %s: no driver for %s", sess.ID, sess.Kind)
			}
			if err := drv.Close(ctx, sess); err != nil {
				s.log.Warnf("Closing session %s: %v", sess.ID, err)
				return fmt.Errorf("session %s: %w", sess.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func classify(err error) Outcome {
	var (
		validation  *ValidationError
		notFound    *session.SessionNotFoundError
		surface     *session.SurfaceNotFoundError
		unsupported *driver.UnsupportedOperationError
		timeout     *driver.TimeoutError
		panicked    *panicError
	)
	switch {
	case errors.As(err, &validation):
		return OutcomeInvalid
	case errors.As(err, &notFound), errors.As(err, &surface):
		return OutcomeNotFound
	case errors.As(err, &unsupported):
		return OutcomeUnsupported
	case errors.As(err, &timeout):
		return OutcomeTimeout
	case errors.As(err, &panicked):
		return OutcomePanic
	}
	return OutcomeError
}

// errorText renders err for the caller, prefixed with the operation unless
// the message already names it.
func errorText(op string, err error) string {
	msg := err.Error()
	var notFound *session.SessionNotFoundError
	if errors.As(err, &notFound) {
		msg += "; launch a new session or call listSessions"
	}
	if strings.HasPrefix(msg, op+" ") || strings.HasPrefix(msg, "invalid call to") {
		return msg
	}
	return fmt.Sprintf("%s failed: %s", op, msg)
}
