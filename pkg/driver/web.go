package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/pilot/pkg/buffers"
	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/script"
	"github.com/entrhq/pilot/pkg/session"
)

const tabPrefix = "tab"

var validBrowsers = map[string]bool{
	"chromium": true,
	"firefox":  true,
	"webkit":   true,
}

// Web drives browser sessions. Each session owns one browser process with
// one context; tabs are pages of that context.
type Web struct {
	surfaceOps
	unsupported

	launcher engine.Launcher
}

var _ Driver = (*Web)(nil)

// NewWeb creates the browser driver.
func NewWeb(launcher engine.Launcher, cfg *config.Config, log *logging.Logger) *Web {
	return &Web{
		surfaceOps:  newSurfaceOps(cfg, log),
		unsupported: unsupported{kind: session.KindWeb},
		launcher:    launcher,
	}
}

var webCapabilities = capabilities(append([]Op{
	OpNavigate, OpNewTab, OpListTabs, OpSelectTab, OpCloseTab, OpSetDialogPolicy,
	OpSetViewport, OpGetNetworkRequests, OpGetConsoleMessages, OpExportScript,
}, surfaceCapabilities...)...)

func (w *Web) Kind() session.Kind { return session.KindWeb }

func (w *Web) Capabilities() Capabilities { return webCapabilities }

// Launch starts a browser and registers nothing: the returned session is
// fully initialized and ready for the caller's registry.
func (w *Web) Launch(ctx context.Context, opts LaunchOptions) (*session.Session, error) {
	browser := strings.ToLower(opts.Browser)
	if browser == "" {
		browser = w.cfg.Web.Browser
	}
	if !validBrowsers[browser] {
		return nil, &LaunchError{Kind: session.KindWeb, Reason: fmt.Sprintf("unknown browser %q (must be chromium, firefox or webkit)", opts.Browser)}
	}

	headless := w.cfg.Web.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	viewport := opts.Viewport
	if viewport == nil && w.cfg.Web.ViewportWidth > 0 && w.cfg.Web.ViewportHeight > 0 {
		viewport = &engine.Viewport{Width: w.cfg.Web.ViewportWidth, Height: w.cfg.Web.ViewportHeight}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = w.cfg.Web.LaunchTimeout
	}

	ectx, err := startEngine(ctx, session.KindWeb, w.launcher, engine.LaunchOptions{
		Browser:        browser,
		ExecutablePath: opts.ExecutablePath,
		Args:           opts.Args,
		Env:            opts.Env,
		WorkingDir:     opts.WorkingDir,
		Headless:       headless,
		Viewport:       viewport,
	}, timeout, w.log)
	if err != nil {
		return nil, err
	}

	main, pages, err := firstPage(ctx, ectx)
	if err != nil {
		discard(ectx, w.log)
		return nil, &LaunchError{Kind: session.KindWeb, Reason: "no page available", Err: err}
	}

	s := session.New(newSessionID(), session.KindWeb, ectx, main, &session.WebExt{
		Browser: browser,
		Console: buffers.NewRing[engine.ConsoleMessage](w.cfg.Buffers.Console),
		Network: buffers.NewRing[engine.NetworkEvent](w.cfg.Buffers.Network),
	})
	s.AutoSnapshot = opts.IncludeSnapshots
	s.Reconcile(pages, tabPrefix)
	for _, sf := range s.Surfaces() {
		w.attach(s, sf)
	}

	if opts.URL != "" {
		if err := w.Navigate(ctx, s, "", opts.URL); err != nil {
			discard(ectx, w.log)
			return nil, &LaunchError{Kind: session.KindWeb, Reason: "initial navigation failed", Err: err}
		}
	}

	w.log.Infof("Launched %s session %s (headless=%v)", browser, s.ID, headless)
	return s, nil
}

func (w *Web) Close(ctx context.Context, s *session.Session) error {
	err := w.closeSession(ctx, s)
	w.log.Infof("Closed web session %s", s.ID)
	return err
}

func (w *Web) Navigate(ctx context.Context, s *session.Session, surface, url string) error {
	if url == "" {
		return &DriverError{Op: OpNavigate, Err: errors.New("url is required")}
	}
	sf, err := w.surface(OpNavigate, s, surface)
	if err != nil {
		return err
	}
	if err := sf.Page.Goto(ctx, url); err != nil {
		return wrapErr(OpNavigate, err)
	}
	w.navigated(ctx, sf)
	s.Actions.Append("navigate", "", url)
	return nil
}

// NewTab opens a page in the session's context. The new tab is not activated.
func (w *Web) NewTab(ctx context.Context, s *session.Session, url string) (*SurfaceInfo, error) {
	s.Touch()
	page, err := s.Engine.NewPage(ctx)
	if err != nil {
		return nil, wrapErr(OpNewTab, err)
	}
	sf := s.AddSurface(tabPrefix, page)
	w.attach(s, sf)

	if url != "" {
		if err := page.Goto(ctx, url); err != nil {
			_, _ = s.RemoveSurface(sf.ID)
			if cerr := page.Close(ctx); cerr != nil {
				w.log.Debugf("Closing tab %s after failed navigation: %v", sf.ID, cerr)
			}
			return nil, wrapErr(OpNewTab, err)
		}
		w.navigated(ctx, sf)
	}
	return &SurfaceInfo{ID: sf.ID, Title: sf.Title(), URL: sf.URL(), Active: s.ActiveID() == sf.ID}, nil
}

// Tabs reconciles the known tabs with the browser's pages, picking up
// popups and dropping pages that closed on their own.
func (w *Web) Tabs(ctx context.Context, s *session.Session) ([]SurfaceInfo, error) {
	s.Touch()
	pages, err := s.Engine.Pages(ctx)
	if err != nil {
		return nil, wrapErr(OpListTabs, err)
	}
	added, _ := s.Reconcile(pages, tabPrefix)
	for _, sf := range added {
		w.attach(s, sf)
	}
	for _, sf := range s.Surfaces() {
		w.refreshTitle(ctx, sf)
	}
	return surfaceInfos(s, nil), nil
}

func (w *Web) SelectTab(ctx context.Context, s *session.Session, id string) error {
	if id == "" {
		return &DriverError{Op: OpSelectTab, Err: errors.New("tab id is required")}
	}
	s.Touch()
	sf, err := s.Activate(id)
	if err != nil {
		return err
	}
	if err := sf.Page.BringToFront(ctx); err != nil {
		w.log.Warnf("Bringing tab %s of session %s to front: %v", id, s.ID, err)
	}
	return nil
}

// CloseTab closes a tab (the active one when id is empty) and returns the
// id of the tab that is active afterwards, empty when none remain.
func (w *Web) CloseTab(ctx context.Context, s *session.Session, id string) (string, error) {
	s.Touch()
	if id == "" {
		id = s.ActiveID()
		if id == "" {
			return "", &DriverError{Op: OpCloseTab, Err: session.ErrNoSurfaces}
		}
	}
	sf, err := s.RemoveSurface(id)
	if err != nil {
		return "", err
	}
	if err := sf.Page.Close(ctx); err != nil {
		w.log.Warnf("Closing tab %s of session %s: %v", id, s.ID, err)
	}
	return s.ActiveID(), nil
}

func (w *Web) SetDialogPolicy(ctx context.Context, s *session.Session, policy session.DialogPolicy) error {
	s.Touch()
	s.SetDialogPolicy(policy)
	return nil
}

func (w *Web) SetViewport(ctx context.Context, s *session.Session, req ViewportRequest) error {
	if req.Width <= 0 || req.Height <= 0 {
		return &DriverError{Op: OpSetViewport, Err: fmt.Errorf("invalid viewport %dx%d", req.Width, req.Height)}
	}
	sf, err := w.surface(OpSetViewport, s, req.Surface)
	if err != nil {
		return err
	}
	if err := sf.Page.SetViewport(ctx, req.Width, req.Height); err != nil {
		return wrapErr(OpSetViewport, err)
	}
	return nil
}

func (w *Web) NetworkRequests(ctx context.Context, s *session.Session, q NetworkQuery) ([]engine.NetworkEvent, error) {
	s.Touch()
	var keep func(engine.NetworkEvent) bool
	if q.Filter != "" {
		pattern := q.Filter
		if !strings.ContainsAny(pattern, "*?[{") {
			pattern = "*" + pattern + "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &DriverError{Op: OpGetNetworkRequests, Err: fmt.Errorf("invalid filter %q: %w", q.Filter, err)}
		}
		keep = func(ev engine.NetworkEvent) bool { return g.Match(ev.URL) }
	}
	return s.Web().Network.Last(q.Limit, keep), nil
}

func (w *Web) ConsoleMessages(ctx context.Context, s *session.Session, q ConsoleQuery) ([]engine.ConsoleMessage, error) {
	s.Touch()
	var keep func(engine.ConsoleMessage) bool
	if q.Level != "" {
		level := strings.ToLower(q.Level)
		keep = func(m engine.ConsoleMessage) bool { return strings.ToLower(m.Level) == level }
	}
	return s.Web().Console.Last(q.Limit, keep), nil
}

func (w *Web) ExportScript(ctx context.Context, s *session.Session, testName string) (string, error) {
	s.Touch()
	return script.Playwright(testName, s.Actions.Actions()), nil
}
