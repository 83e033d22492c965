// Package engine declares the automation primitives the drivers need from an
// underlying browser engine. Concrete adapters live in the pwengine (Playwright)
// and rodengine (Chrome DevTools Protocol via rod) subpackages.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned (wrapped) by adapters when an engine call exceeded its bound.
var ErrTimeout = errors.New("engine timeout")

// LaunchOptions configures a new engine context.
type LaunchOptions struct {
	// Browser selects the engine flavour: chromium, firefox or webkit.
	Browser string

	// ExecutablePath points at a browser or Electron binary.
	ExecutablePath string

	Args       []string
	Env        map[string]string
	WorkingDir string
	Headless   bool
	Viewport   *Viewport

	// Timeout bounds process start and default per-action waits.
	Timeout time.Duration
}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Launcher starts engine contexts.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Context, error)
}

// Context is one exclusively owned browser process or application instance.
type Context interface {
	// Pages returns the live top-level pages in creation order.
	Pages(ctx context.Context) ([]Page, error)

	// NewPage opens a new page. Engines without that ability return an error.
	NewPage(ctx context.Context) (Page, error)

	Close(ctx context.Context) error
}

// ScreenshotOptions selects the capture format.
type ScreenshotOptions struct {
	// Format is "jpeg" or "png".
	Format   string
	Quality  int
	FullPage bool
}

// Page is one navigable content context.
type Page interface {
	// ID identifies the underlying page for reconciliation. Stable for the page's life.
	ID() string
	URL() string
	Title(ctx context.Context) (string, error)

	Goto(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Hover(ctx context.Context, selector string) error
	Drag(ctx context.Context, source, target string) error
	// Press sends a key. An empty selector targets the focused element.
	Press(ctx context.Context, selector, key string) error
	SelectOption(ctx context.Context, selector string, values []string) error
	SetInputFiles(ctx context.Context, selector string, files []string) error

	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	// Evaluate runs a script. Function expressions are invoked, anything else is
	// evaluated as an expression. Promises are awaited.
	Evaluate(ctx context.Context, script string) (any, error)
	WaitForSelector(ctx context.Context, selector string, state string, timeout time.Duration) error

	Content(ctx context.Context) (string, error)
	// TextContent returns the text of the first match, or of the body when selector is empty.
	TextContent(ctx context.Context, selector string) (string, error)
	AccessibilityTree(ctx context.Context) (*Node, error)

	SetViewport(ctx context.Context, width, height int) error
	BringToFront(ctx context.Context) error
	Close(ctx context.Context) error

	// Listen installs event callbacks. Callbacks may run on engine goroutines.
	Listen(l Listeners)
}

// Node is one accessibility tree node.
type Node struct {
	Role     string
	Name     string
	Value    string
	Props    map[string]string
	Children []*Node
}

// Dialog is a pending native dialog.
type Dialog interface {
	Type() string
	Message() string
	Accept(promptText string) error
	Dismiss() error
}

// ConsoleMessage is a renderer console entry.
type ConsoleMessage struct {
	Level string
	Text  string
	URL   string
	Time  time.Time
}

// NetworkEvent is a request or its response.
type NetworkEvent struct {
	Method       string
	URL          string
	ResourceType string
	Status       int
	Response     bool
	Time         time.Time
}

// Listeners holds optional page event callbacks.
type Listeners struct {
	Dialog  func(Dialog)
	Load    func()
	Console func(ConsoleMessage)
	Network func(NetworkEvent)
	Closed  func()
}
