// Package rodengine adapts go-rod (Chrome DevTools Protocol) to the engine
// interfaces. It drives Electron applications, which expose CDP when started
// with a remote debugging port.
package rodengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/pilot/pkg/engine"
)

// DefaultTimeout bounds launch and the wait for the first window.
const DefaultTimeout = 30 * time.Second

// Launcher starts Electron (or any CDP speaking binary) through rod's launcher.
type Launcher struct{}

// NewLauncher creates a rod launcher.
func NewLauncher() *Launcher {
	return &Launcher{}
}

// Launch starts the executable with remote debugging enabled, connects to it
// and waits for its first page target.
func (l *Launcher) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Context, error) {
	if opts.ExecutablePath == "" {
		return nil, errors.New("executable path is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// the launcher is not bound to ctx: cancelling it would kill the app
	lch := electronLauncher(opts)

	controlURL, err := lch.Launch()
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to launch %s: %w", opts.ExecutablePath, err))
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lch.Kill()
		return nil, mapError(fmt.Errorf("failed to connect to %s: %w", controlURL, err))
	}
	// target lifecycle events report windows the app closes itself
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		_ = browser.Close()
		lch.Kill()
		return nil, mapError(fmt.Errorf("failed to watch targets: %w", err))
	}

	c := &appContext{
		browser:  browser,
		launcher: lch,
		pages:    make(map[proto.TargetTargetID]*page),
	}

	if err := c.waitFirstPage(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}

	if opts.Viewport != nil {
		pages, _ := c.Pages(ctx)
		for _, p := range pages {
			_ = p.SetViewport(ctx, opts.Viewport.Width, opts.Viewport.Height)
		}
	}
	return c, nil
}

// electronLauncher builds the command line for an Electron binary. rod's
// defaults target Chrome: the profile directory, headless mode and
// no-startup-window would change how the app starts, so only rod's own
// control flags and the debugging port are kept. Headless is ignored since
// Electron has no such switch.
func electronLauncher(opts engine.LaunchOptions) *launcher.Launcher {
	lch := launcher.New()
	for f := range lch.Flags {
		if f == flags.RemoteDebuggingPort || strings.HasPrefix(string(f), "rod-") {
			continue
		}
		lch.Delete(f)
	}
	lch = lch.Bin(opts.ExecutablePath).Leakless(false)
	if opts.WorkingDir != "" {
		lch = lch.WorkingDir(opts.WorkingDir)
	}
	if len(opts.Env) > 0 {
		env := make([]string, 0, len(opts.Env))
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		lch = lch.Env(env...)
	}
	if len(opts.Args) > 0 {
		lch = lch.Append(flags.Arguments, opts.Args...)
	}
	return lch
}

// appContext owns one launched application.
type appContext struct {
	browser  *rod.Browser
	launcher *launcher.Launcher

	mu    sync.Mutex
	pages map[proto.TargetTargetID]*page
}

func (c *appContext) waitFirstPage(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		pages, err := c.Pages(ctx)
		if err == nil && len(pages) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return mapError(fmt.Errorf("no window appeared: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (c *appContext) Pages(ctx context.Context) ([]engine.Page, error) {
	targets, err := c.browser.Pages()
	if err != nil {
		return nil, mapError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[proto.TargetTargetID]bool, len(targets))
	out := make([]engine.Page, 0, len(targets))
	for _, t := range targets {
		seen[t.TargetID] = true
		p, ok := c.pages[t.TargetID]
		if !ok {
			p = newPage(t)
			c.pages[t.TargetID] = p
		}
		out = append(out, p)
	}
	for id, p := range c.pages {
		if !seen[id] {
			p.stop()
			delete(c.pages, id)
		}
	}
	return out, nil
}

func (c *appContext) NewPage(ctx context.Context) (engine.Page, error) {
	t, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to open window: %w", err))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := newPage(t)
	c.pages[t.TargetID] = p
	return p, nil
}

func (c *appContext) Close(ctx context.Context) error {
	c.mu.Lock()
	for id, p := range c.pages {
		p.stop()
		delete(c.pages, id)
	}
	c.mu.Unlock()

	err := c.browser.Close()
	c.launcher.Kill()
	if err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", engine.ErrTimeout, err)
	}
	return err
}
