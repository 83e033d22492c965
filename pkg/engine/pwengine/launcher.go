// Package pwengine adapts playwright-go to the engine interfaces.
package pwengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pilot/pkg/engine"
)

// DefaultTimeout is applied to page actions when neither the launch options
// nor the caller's context carry a bound.
const DefaultTimeout = 30 * time.Second

// Launcher starts Playwright browsers. The Playwright driver is installed and
// started lazily on first launch and shared by every context it creates.
type Launcher struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
	install     bool
}

// NewLauncher creates a launcher. When install is true, missing browsers are
// downloaded on first use.
func NewLauncher(install bool) *Launcher {
	return &Launcher{install: install}
}

// initialize starts the Playwright driver once.
func (l *Launcher) initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return nil
	}

	// stdout carries the protocol stream, keep the driver quiet
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if l.install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.playwright = pw
	l.initialized = true
	return nil
}

func (l *Launcher) browserType(name string) (playwright.BrowserType, error) {
	switch name {
	case "", "chromium", "chrome":
		return l.playwright.Chromium, nil
	case "firefox":
		return l.playwright.Firefox, nil
	case "webkit", "safari":
		return l.playwright.WebKit, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q (want chromium, firefox or webkit)", name)
	}
}

// Launch starts a browser and an isolated context with one blank page.
func (l *Launcher) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Context, error) {
	if err := l.initialize(); err != nil {
		return nil, err
	}

	bt, err := l.browserType(opts.Browser)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Timeout:  playwright.Float(float64(timeout.Milliseconds())),
		Args:     opts.Args,
	}
	if len(opts.Env) > 0 {
		launchOpts.Env = opts.Env
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}

	browser, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to launch browser: %w", err))
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.Viewport != nil {
		contextOpts.Viewport = &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		}
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(timeout.Milliseconds()))

	c := &browserContext{
		browser: browser,
		context: bctx,
		pages:   make(map[playwright.Page]*page),
	}

	if _, err := c.NewPage(ctx); err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return c, nil
}

// Shutdown stops the Playwright driver. Contexts must be closed first.
func (l *Launcher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized || l.playwright == nil {
		return nil
	}
	l.initialized = false
	if err := l.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// browserContext owns one browser process and its single context.
type browserContext struct {
	browser playwright.Browser
	context playwright.BrowserContext

	mu     sync.Mutex
	pages  map[playwright.Page]*page
	nextID int
}

func (c *browserContext) wrap(p playwright.Page) *page {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.pages[p]; ok {
		return w
	}
	c.nextID++
	w := &page{id: fmt.Sprintf("pw-%d", c.nextID), page: p}
	c.pages[p] = w
	p.OnClose(func(playwright.Page) {
		c.mu.Lock()
		delete(c.pages, p)
		c.mu.Unlock()
	})
	return w
}

func (c *browserContext) Pages(ctx context.Context) ([]engine.Page, error) {
	live := c.context.Pages()
	out := make([]engine.Page, 0, len(live))
	for _, p := range live {
		if p.IsClosed() {
			continue
		}
		out = append(out, c.wrap(p))
	}
	return out, nil
}

func (c *browserContext) NewPage(ctx context.Context) (engine.Page, error) {
	p, err := c.context.NewPage()
	if err != nil {
		return nil, mapError(err)
	}
	return c.wrap(p), nil
}

func (c *browserContext) Close(ctx context.Context) error {
	var errs []error
	if err := c.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if err := c.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	return errors.Join(errs...)
}

// mapError tags Playwright timeouts with engine.ErrTimeout.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", engine.ErrTimeout, err)
	}
	return err
}

// timeoutMs converts the context deadline into a Playwright timeout.
// A nil result leaves the context default in place.
func timeoutMs(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	remaining := time.Until(deadline)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return playwright.Float(float64(remaining.Milliseconds()))
}
