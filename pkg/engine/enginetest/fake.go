// Package enginetest provides an in-memory engine for driver and dispatch tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/engine"
)

// Launcher is a fake engine.Launcher.
type Launcher struct {
	mu sync.Mutex

	// Delay holds Launch until it elapses or ctx is done.
	Delay time.Duration
	Err   error

	// Setup customizes every new context before it is returned.
	Setup func(*Context)

	Launched []*Context
	Options  []engine.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Context, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", engine.ErrTimeout, ctx.Err())
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.Options = append(l.Options, opts)
	if l.Err != nil {
		return nil, l.Err
	}

	c := NewContext()
	if l.Setup != nil {
		l.Setup(c)
	}
	l.Launched = append(l.Launched, c)
	return c, nil
}

// Last returns the most recently launched context.
func (l *Launcher) Last() *Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Launched) == 0 {
		return nil
	}
	return l.Launched[len(l.Launched)-1]
}

// Context is a fake engine.Context holding fake pages.
type Context struct {
	mu     sync.Mutex
	pages  []*Page
	nextID int
	closed bool

	CloseErr   error
	NewPageErr error
	// GotoErr fails navigation on every page of the context.
	GotoErr    error
}

// NewContext creates a context with one blank page.
func NewContext() *Context {
	c := &Context{}
	c.AddPage("about:blank")
	return c
}

// AddPage opens a page as if the application created it.
func (c *Context) AddPage(url string) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	p := newPage(c, fmt.Sprintf("page-%d", c.nextID), url)
	c.pages = append(c.pages, p)
	return p
}

// Page returns the i-th live page.
func (c *Context) Page(i int) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[i]
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) remove(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, candidate := range c.pages {
		if candidate == p {
			c.pages = append(c.pages[:i], c.pages[i+1:]...)
			return
		}
	}
}

func (c *Context) Pages(ctx context.Context) ([]engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out, nil
}

func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	if c.NewPageErr != nil {
		return nil, c.NewPageErr
	}
	return c.AddPage("about:blank"), nil
}

func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	pages := c.pages
	c.pages = nil
	c.mu.Unlock()
	for _, p := range pages {
		p.markClosed()
	}
	return c.CloseErr
}

// Call records one page interaction.
type Call struct {
	Op       string
	Selector string
	Args     []string
}

// Page is a fake engine.Page. Exported fields may be set before use.
type Page struct {
	owner *Context
	id    string

	mu        sync.Mutex
	url       string
	history   []string
	histPos   int
	calls     []Call
	listeners []engine.Listeners
	closed    bool
	viewport  engine.Viewport

	// Titles maps URLs to document titles; unknown URLs use the URL itself.
	Titles map[string]string
	// Tree is returned by AccessibilityTree.
	Tree *engine.Node
	// HTML is returned by Content.
	HTML string
	// Texts maps selectors to TextContent results.
	Texts map[string]string
	// Missing selectors fail every element action.
	Missing map[string]bool
	// EvalFunc answers Evaluate.
	EvalFunc func(script string) (any, error)
	// Screenshot bytes.
	Image    []byte
	CloseErr error
}

func newPage(owner *Context, id, url string) *Page {
	return &Page{
		owner:   owner,
		id:      id,
		url:     url,
		history: []string{url},
		Titles:  make(map[string]string),
		Texts:   make(map[string]string),
		Missing: make(map[string]bool),
		Image:   []byte{0x89, 'P', 'N', 'G'},
	}
}

// Calls returns the recorded interactions.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// IsClosed reports whether the page was closed.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Viewport returns the last size set.
func (p *Page) Viewport() engine.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *Page) record(op, selector string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("target page has been closed")
	}
	p.calls = append(p.calls, Call{Op: op, Selector: selector, Args: args})
	if selector != "" && p.Missing[selector] {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

func (p *Page) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Page) ID() string { return p.id }

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.Titles[p.url]; ok {
		return t, nil
	}
	return p.url, nil
}

func (p *Page) navigate(url string, push bool) {
	p.mu.Lock()
	p.url = url
	if push {
		p.history = append(p.history[:p.histPos+1], url)
		p.histPos = len(p.history) - 1
	}
	p.mu.Unlock()
	p.FireLoad()
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.record("goto", "", url); err != nil {
		return err
	}
	if p.owner != nil {
		p.owner.mu.Lock()
		err := p.owner.GotoErr
		p.owner.mu.Unlock()
		if err != nil {
			return err
		}
	}
	p.navigate(url, true)
	return nil
}

func (p *Page) Back(ctx context.Context) error {
	if err := p.record("back", ""); err != nil {
		return err
	}
	p.mu.Lock()
	if p.histPos > 0 {
		p.histPos--
	}
	url := p.history[p.histPos]
	p.mu.Unlock()
	p.navigate(url, false)
	return nil
}

func (p *Page) Forward(ctx context.Context) error {
	if err := p.record("forward", ""); err != nil {
		return err
	}
	p.mu.Lock()
	if p.histPos < len(p.history)-1 {
		p.histPos++
	}
	url := p.history[p.histPos]
	p.mu.Unlock()
	p.navigate(url, false)
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.record("reload", ""); err != nil {
		return err
	}
	p.FireLoad()
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.record("click", selector)
}

func (p *Page) Fill(ctx context.Context, selector, text string) error {
	return p.record("fill", selector, text)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	return p.record("hover", selector)
}

func (p *Page) Drag(ctx context.Context, source, target string) error {
	if err := p.record("drag", source, target); err != nil {
		return err
	}
	if p.Missing[target] {
		return fmt.Errorf("no element matches %q", target)
	}
	return nil
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	return p.record("press", selector, key)
}

func (p *Page) SelectOption(ctx context.Context, selector string, values []string) error {
	return p.record("select", selector, values...)
}

func (p *Page) SetInputFiles(ctx context.Context, selector string, files []string) error {
	return p.record("upload", selector, files...)
}

func (p *Page) Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error) {
	if err := p.record("screenshot", "", opts.Format, fmt.Sprint(opts.Quality)); err != nil {
		return nil, err
	}
	return p.Image, nil
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if err := p.record("evaluate", "", script); err != nil {
		return nil, err
	}
	if p.EvalFunc == nil {
		return nil, nil
	}
	return p.EvalFunc(script)
}

func (p *Page) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	if err := p.record("wait", "", selector, state); err != nil {
		return err
	}
	if p.Missing[selector] {
		return fmt.Errorf("%w: waiting for %q", engine.ErrTimeout, selector)
	}
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.record("content", ""); err != nil {
		return "", err
	}
	return p.HTML, nil
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	if err := p.record("text", selector); err != nil {
		return "", err
	}
	if selector == "" {
		selector = "body"
	}
	return p.Texts[selector], nil
}

func (p *Page) AccessibilityTree(ctx context.Context) (*engine.Node, error) {
	if err := p.record("snapshot", ""); err != nil {
		return nil, err
	}
	if p.Tree == nil {
		return &engine.Node{Role: "document"}, nil
	}
	return p.Tree, nil
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	if err := p.record("viewport", "", fmt.Sprint(width), fmt.Sprint(height)); err != nil {
		return err
	}
	p.mu.Lock()
	p.viewport = engine.Viewport{Width: width, Height: height}
	p.mu.Unlock()
	return nil
}

func (p *Page) BringToFront(ctx context.Context) error {
	return p.record("front", "")
}

func (p *Page) Close(ctx context.Context) error {
	if err := p.record("close", ""); err != nil {
		return err
	}
	p.markClosed()
	if p.owner != nil {
		p.owner.remove(p)
	}
	return p.CloseErr
}

func (p *Page) Listen(l engine.Listeners) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Page) snapshotListeners() []engine.Listeners {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Listeners(nil), p.listeners...)
}

// FireLoad delivers a load event synchronously.
func (p *Page) FireLoad() {
	for _, l := range p.snapshotListeners() {
		if l.Load != nil {
			l.Load()
		}
	}
}

// FireDialog delivers a dialog synchronously.
func (p *Page) FireDialog(d *Dialog) {
	for _, l := range p.snapshotListeners() {
		if l.Dialog != nil {
			l.Dialog(d)
		}
	}
}

// FireConsole delivers a console message.
func (p *Page) FireConsole(m engine.ConsoleMessage) {
	for _, l := range p.snapshotListeners() {
		if l.Console != nil {
			l.Console(m)
		}
	}
}

// FireNetwork delivers a network event.
func (p *Page) FireNetwork(ev engine.NetworkEvent) {
	for _, l := range p.snapshotListeners() {
		if l.Network != nil {
			l.Network(ev)
		}
	}
}

// Dialog is a fake native dialog that records how it was handled.
type Dialog struct {
	Kind string
	Text string

	mu         sync.Mutex
	handled    bool
	accepted   bool
	promptText string
}

func (d *Dialog) Type() string    { return d.Kind }
func (d *Dialog) Message() string { return d.Text }

func (d *Dialog) Accept(promptText string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handled, d.accepted, d.promptText = true, true, promptText
	return nil
}

func (d *Dialog) Dismiss() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handled, d.accepted = true, false
	return nil
}

// Result reports whether the dialog was handled, accepted and with what prompt text.
func (d *Dialog) Result() (handled, accepted bool, promptText string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled, d.accepted, d.promptText
}
