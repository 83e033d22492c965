package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/session"
)

const (
	defaultWaitTimeout = 30 * time.Second
	listenerTimeout    = 5 * time.Second
)

// surfaceOps implements the operations every driver kind shares. All of them
// act on one surface of a session and resolve ref selectors through that
// surface's ref table.
type surfaceOps struct {
	cfg *config.Config
	log *logging.Logger
	now func() time.Time
}

func newSurfaceOps(cfg *config.Config, log *logging.Logger) surfaceOps {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logging.Nop()
	}
	return surfaceOps{cfg: cfg, log: log, now: time.Now}
}

// surface resolves the addressed surface and marks the session as used.
func (o surfaceOps) surface(op Op, s *session.Session, id string) (*session.Surface, error) {
	s.Touch()
	sf, err := s.Surface(id)
	if errors.Is(err, session.ErrNoSurfaces) {
		return nil, &DriverError{Op: op, Err: err}
	}
	return sf, err
}

// selector turns a ref token into its recorded selector. Any other value is
// passed through unchanged.
func (o surfaceOps) selector(op Op, sf *session.Surface, sel string) (string, error) {
	if sel == "" {
		return "", &DriverError{Op: op, Err: errors.New("selector is required")}
	}
	if !session.IsRef(sel) {
		return sel, nil
	}
	ref, ok := sf.LookupRef(sel)
	if !ok {
		return "", &DriverError{Op: op, Err: fmt.Errorf("stale or unknown ref %q on surface %q; take a new snapshot", sel, sf.ID)}
	}
	return ref.Selector, nil
}

// target resolves both the surface and the selector of t.
func (o surfaceOps) target(op Op, s *session.Session, t Target) (*session.Surface, string, error) {
	sf, err := o.surface(op, s, t.Surface)
	if err != nil {
		return nil, "", err
	}
	sel, err := o.selector(op, sf, t.Selector)
	if err != nil {
		return nil, "", err
	}
	return sf, sel, nil
}

// attach installs the per-surface listeners: dialogs consult the session
// policy, loads refresh the location cache and drop refs, console and
// network events feed the web buffers, and a closed page leaves the map.
func (o surfaceOps) attach(s *session.Session, sf *session.Surface) {
	l := engine.Listeners{
		Dialog: func(d engine.Dialog) { o.handleDialog(s, sf, d) },
		Load:   func() { o.refreshLocation(sf) },
		Closed: func() {
			if _, err := s.RemoveSurface(sf.ID); err == nil {
				o.log.Debugf("Surface %s of session %s closed by the page", sf.ID, s.ID)
			}
		},
	}
	if web := s.Web(); web != nil {
		l.Console = func(m engine.ConsoleMessage) { web.Console.Add(m) }
		l.Network = func(ev engine.NetworkEvent) { web.Network.Add(ev) }
	}
	sf.Page.Listen(l)
}

func (o surfaceOps) handleDialog(s *session.Session, sf *session.Surface, d engine.Dialog) {
	policy, ok := s.DialogPolicy()
	var err error
	if ok && policy.Accept {
		err = d.Accept(policy.PromptText)
	} else {
		err = d.Dismiss()
	}
	if err != nil {
		o.log.Warnf("Handling %s dialog on %s/%s failed: %v", d.Type(), s.ID, sf.ID, err)
		return
	}
	o.log.Debugf("Handled %s dialog on %s/%s (accept=%v): %s", d.Type(), s.ID, sf.ID, ok && policy.Accept, d.Message())
}

func (o surfaceOps) refreshLocation(sf *session.Surface) {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	o.navigated(ctx, sf)
}

// navigated refreshes the cache inline so the caller sees it before the
// operation returns, independent of when the load event arrives.
func (o surfaceOps) navigated(ctx context.Context, sf *session.Surface) {
	title, err := sf.Page.Title(ctx)
	if err != nil {
		title = ""
	}
	sf.Navigated(title, sf.Page.URL())
}

func (o surfaceOps) history(ctx context.Context, op Op, s *session.Session, surface string, move func(context.Context, engine.Page) error) error {
	sf, err := o.surface(op, s, surface)
	if err != nil {
		return err
	}
	if err := move(ctx, sf.Page); err != nil {
		return wrapErr(op, err)
	}
	o.navigated(ctx, sf)
	s.Actions.Append(string(op), "", "")
	return nil
}

func (o surfaceOps) Click(ctx context.Context, s *session.Session, t Target) error {
	sf, sel, err := o.target(OpClick, s, t)
	if err != nil {
		return err
	}
	if err := sf.Page.Click(ctx, sel); err != nil {
		return wrapErr(OpClick, err)
	}
	s.Actions.Append("click", sel, "")
	return nil
}

func (o surfaceOps) Type(ctx context.Context, s *session.Session, req TypeRequest) error {
	sf, sel, err := o.target(OpType, s, req.Target)
	if err != nil {
		return err
	}
	if err := sf.Page.Fill(ctx, sel, req.Text); err != nil {
		return wrapErr(OpType, err)
	}
	s.Actions.Append("type", sel, req.Text)

	if req.Submit {
		if err := sf.Page.Press(ctx, sel, "Enter"); err != nil {
			return wrapErr(OpType, err)
		}
		s.Actions.Append("key", sel, "Enter")
	}
	return nil
}

func (o surfaceOps) Hover(ctx context.Context, s *session.Session, t Target) error {
	sf, sel, err := o.target(OpHover, s, t)
	if err != nil {
		return err
	}
	if err := sf.Page.Hover(ctx, sel); err != nil {
		return wrapErr(OpHover, err)
	}
	s.Actions.Append("hover", sel, "")
	return nil
}

func (o surfaceOps) Drag(ctx context.Context, s *session.Session, req DragRequest) error {
	sf, err := o.surface(OpDrag, s, req.Surface)
	if err != nil {
		return err
	}
	src, err := o.selector(OpDrag, sf, req.Source)
	if err != nil {
		return err
	}
	dst, err := o.selector(OpDrag, sf, req.Dest)
	if err != nil {
		return err
	}
	if err := sf.Page.Drag(ctx, src, dst); err != nil {
		return wrapErr(OpDrag, err)
	}
	s.Actions.Append("drag", src, dst)
	return nil
}

func (o surfaceOps) Key(ctx context.Context, s *session.Session, req KeyRequest) error {
	if req.Key == "" {
		return &DriverError{Op: OpKey, Err: errors.New("key is required")}
	}
	sf, err := o.surface(OpKey, s, req.Surface)
	if err != nil {
		return err
	}
	sel := ""
	if req.Selector != "" {
		if sel, err = o.selector(OpKey, sf, req.Selector); err != nil {
			return err
		}
	}
	if err := sf.Page.Press(ctx, sel, req.Key); err != nil {
		return wrapErr(OpKey, err)
	}
	s.Actions.Append("key", sel, req.Key)
	return nil
}

func (o surfaceOps) Select(ctx context.Context, s *session.Session, req SelectRequest) error {
	sf, sel, err := o.target(OpSelect, s, req.Target)
	if err != nil {
		return err
	}
	if err := sf.Page.SelectOption(ctx, sel, req.Values); err != nil {
		return wrapErr(OpSelect, err)
	}
	s.Actions.Append("select", sel, strings.Join(req.Values, ","))
	return nil
}

func (o surfaceOps) Upload(ctx context.Context, s *session.Session, req UploadRequest) error {
	if len(req.Files) == 0 {
		return &DriverError{Op: OpUpload, Err: errors.New("at least one file is required")}
	}
	sf, sel, err := o.target(OpUpload, s, req.Target)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return &DriverError{Op: OpUpload, Err: err}
		}
		if _, err := os.Stat(abs); err != nil {
			return &DriverError{Op: OpUpload, Err: fmt.Errorf("upload file: %w", err)}
		}
		files = append(files, abs)
	}
	if err := sf.Page.SetInputFiles(ctx, sel, files); err != nil {
		return wrapErr(OpUpload, err)
	}
	s.Actions.Append("upload", sel, strings.Join(files, ","))
	return nil
}

func (o surfaceOps) Back(ctx context.Context, s *session.Session, surface string) error {
	return o.history(ctx, OpBack, s, surface, func(ctx context.Context, p engine.Page) error { return p.Back(ctx) })
}

func (o surfaceOps) Forward(ctx context.Context, s *session.Session, surface string) error {
	return o.history(ctx, OpForward, s, surface, func(ctx context.Context, p engine.Page) error { return p.Forward(ctx) })
}

func (o surfaceOps) Refresh(ctx context.Context, s *session.Session, surface string) error {
	return o.history(ctx, OpRefresh, s, surface, func(ctx context.Context, p engine.Page) error { return p.Reload(ctx) })
}

func (o surfaceOps) Evaluate(ctx context.Context, s *session.Session, surface, script string) (any, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &EvaluationError{Message: "script is empty", Script: script}
	}
	sf, err := o.surface(OpEvaluate, s, surface)
	if err != nil {
		return nil, err
	}
	v, err := sf.Page.Evaluate(ctx, PrepareScript(script))
	if err != nil {
		if errors.Is(err, engine.ErrTimeout) {
			return nil, &TimeoutError{Op: OpEvaluate, Err: err}
		}
		return nil, &EvaluationError{Message: err.Error(), Script: script}
	}
	return v, nil
}

func (o surfaceOps) WaitForSelector(ctx context.Context, s *session.Session, req WaitRequest) error {
	sf, sel, err := o.target(OpWaitForSelector, s, req.Target)
	if err != nil {
		return err
	}
	state := req.State
	if state == "" {
		state = "visible"
	}
	switch state {
	case "attached", "detached", "visible", "hidden":
	default:
		return &DriverError{Op: OpWaitForSelector, Err: fmt.Errorf("invalid state %q (must be attached, detached, visible or hidden)", state)}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	if err := sf.Page.WaitForSelector(ctx, sel, state, timeout); err != nil {
		if errors.Is(err, engine.ErrTimeout) {
			return &TimeoutError{Op: OpWaitForSelector, Timeout: timeout, Err: err}
		}
		return wrapErr(OpWaitForSelector, err)
	}
	return nil
}

// Snapshot rebuilds the surface's ref table from a fresh accessibility tree.
func (o surfaceOps) Snapshot(ctx context.Context, s *session.Session, surface string) (*Snapshot, error) {
	sf, err := o.surface(OpSnapshot, s, surface)
	if err != nil {
		return nil, err
	}
	tree, err := sf.Page.AccessibilityTree(ctx)
	if err != nil {
		return nil, wrapErr(OpSnapshot, err)
	}
	title, err := sf.Page.Title(ctx)
	if err != nil {
		title = sf.Title()
	}
	url := sf.Page.URL()

	snap, err := buildSnapshot(tree, title, url)
	if err != nil {
		return nil, &DriverError{Op: OpSnapshot, Err: err}
	}
	snap.Surface = sf.ID

	sf.SetLocation(title, url)
	sf.ReplaceRefs(snap.Refs)
	return snap, nil
}

func (o surfaceOps) Content(ctx context.Context, s *session.Session, req ContentRequest) (string, error) {
	sf, err := o.surface(OpContent, s, req.Surface)
	if err != nil {
		return "", err
	}
	raw, err := sf.Page.Content(ctx)
	if err != nil {
		return "", wrapErr(OpContent, err)
	}

	if !req.Clean {
		if req.MaxLength > 0 && len(raw) > req.MaxLength {
			return raw[:req.MaxLength] + fmt.Sprintf("\n\n[Content truncated: %d of %d characters shown]", req.MaxLength, len(raw)), nil
		}
		return raw, nil
	}

	cleaned, err := CleanHTML(raw, req.MaxLength)
	if err != nil {
		return "", &DriverError{Op: OpContent, Err: err}
	}
	var b strings.Builder
	if cleaned.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", cleaned.Title)
	}
	if cleaned.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", cleaned.Description)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(cleaned.HTML)
	if cleaned.Truncated {
		fmt.Fprintf(&b, "\n\n[Content truncated at %d characters]", req.MaxLength)
	}
	return b.String(), nil
}

func (o surfaceOps) TextContent(ctx context.Context, s *session.Session, t Target) (string, error) {
	sf, err := o.surface(OpTextContent, s, t.Surface)
	if err != nil {
		return "", err
	}
	sel := ""
	if t.Selector != "" {
		if sel, err = o.selector(OpTextContent, sf, t.Selector); err != nil {
			return "", err
		}
	}
	text, err := sf.Page.TextContent(ctx, sel)
	if err != nil {
		return "", wrapErr(OpTextContent, err)
	}
	return text, nil
}

// closeSession closes every surface and then the engine context. Failures
// are logged and joined; none stops the remaining cleanup.
func (o surfaceOps) closeSession(ctx context.Context, s *session.Session) error {
	var errs []error
	for _, sf := range s.Surfaces() {
		if err := sf.Page.Close(ctx); err != nil {
			o.log.Warnf("Closing surface %s of session %s: %v", sf.ID, s.ID, err)
			errs = append(errs, fmt.Errorf("surface %s: %w", sf.ID, err))
		}
	}
	if err := s.Engine.Close(ctx); err != nil {
		o.log.Warnf("Closing engine of session %s: %v", s.ID, err)
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	return errors.Join(errs...)
}

// refreshTitle updates the cached title without touching refs.
func (o surfaceOps) refreshTitle(ctx context.Context, sf *session.Surface) {
	title, err := sf.Page.Title(ctx)
	if err != nil {
		return
	}
	sf.SetLocation(title, sf.Page.URL())
}

// surfaceInfos lists surfaces with their cached location.
func surfaceInfos(s *session.Session, classify func(*session.Surface) string) []SurfaceInfo {
	active := s.ActiveID()
	surfaces := s.Surfaces()
	out := make([]SurfaceInfo, 0, len(surfaces))
	for _, sf := range surfaces {
		info := SurfaceInfo{ID: sf.ID, Title: sf.Title(), URL: sf.URL(), Active: sf.ID == active}
		if classify != nil {
			info.Type = classify(sf)
		}
		out = append(out, info)
	}
	return out
}
