package rodengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/pilot/pkg/engine"
)

// page adapts a rod page target.
type page struct {
	page *rod.Page

	mu      sync.Mutex
	cancels []context.CancelFunc
}

func newPage(p *rod.Page) *page {
	return &page{page: p}
}

func (p *page) ID() string { return string(p.page.TargetID) }

func (p *page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// bound returns the page tied to ctx, with the default timeout when ctx has no deadline.
func (p *page) bound(ctx context.Context) *rod.Page {
	pg := p.page.Context(ctx)
	if _, ok := ctx.Deadline(); !ok {
		pg = pg.Timeout(DefaultTimeout)
	}
	return pg
}

func (p *page) Title(ctx context.Context) (string, error) {
	info, err := p.bound(ctx).Info()
	if err != nil {
		return "", mapError(err)
	}
	return info.Title, nil
}

func (p *page) Goto(ctx context.Context, url string) error {
	pg := p.bound(ctx)
	if err := pg.Navigate(url); err != nil {
		return mapError(fmt.Errorf("navigation failed: %w", err))
	}
	return mapError(pg.WaitLoad())
}

func (p *page) Back(ctx context.Context) error {
	return mapError(p.bound(ctx).NavigateBack())
}

func (p *page) Forward(ctx context.Context) error {
	return mapError(p.bound(ctx).NavigateForward())
}

func (p *page) Reload(ctx context.Context) error {
	return mapError(p.bound(ctx).Reload())
}

// element resolves CSS selectors and the role= and text= forms produced by
// snapshots.
func (p *page) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := find(p.bound(ctx), parseSelector(selector))
	if err != nil {
		return nil, mapError(fmt.Errorf("no element matches %q: %w", selector, err))
	}
	return el, nil
}

func (p *page) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return mapError(el.Click(proto.InputMouseButtonLeft, 1))
}

func (p *page) Fill(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return mapError(err)
	}
	return mapError(el.Input(text))
}

func (p *page) Hover(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return mapError(el.Hover())
}

func (p *page) Drag(ctx context.Context, source, target string) error {
	from, err := p.element(ctx, source)
	if err != nil {
		return err
	}
	to, err := p.element(ctx, target)
	if err != nil {
		return err
	}
	fromShape, err := from.Shape()
	if err != nil {
		return mapError(err)
	}
	toShape, err := to.Shape()
	if err != nil {
		return mapError(err)
	}

	mouse := p.bound(ctx).Mouse
	if err := mouse.MoveTo(*fromShape.OnePointInside()); err != nil {
		return mapError(err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return mapError(err)
	}
	if err := mouse.MoveTo(*toShape.OnePointInside()); err != nil {
		return mapError(err)
	}
	return mapError(mouse.Up(proto.InputMouseButtonLeft, 1))
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Key(' '),
	"control":    input.ControlLeft,
	"shift":      input.ShiftLeft,
	"alt":        input.AltLeft,
	"meta":       input.MetaLeft,
}

// parseKeys turns "Control+Shift+A" into modifiers and the final key.
func parseKeys(combo string) ([]input.Key, input.Key, error) {
	parts := strings.Split(combo, "+")
	keys := make([]input.Key, 0, len(parts))
	for _, part := range parts {
		if k, ok := namedKeys[strings.ToLower(part)]; ok {
			keys = append(keys, k)
			continue
		}
		r := []rune(part)
		if len(r) != 1 {
			return nil, 0, fmt.Errorf("unknown key %q", part)
		}
		keys = append(keys, input.Key(r[0]))
	}
	return keys[:len(keys)-1], keys[len(keys)-1], nil
}

func (p *page) Press(ctx context.Context, selector, key string) error {
	mods, last, err := parseKeys(key)
	if err != nil {
		return err
	}
	if selector != "" {
		el, err := p.element(ctx, selector)
		if err != nil {
			return err
		}
		if err := el.Focus(); err != nil {
			return mapError(err)
		}
	}
	return mapError(p.bound(ctx).KeyActions().Press(mods...).Type(last).Do())
}

func (p *page) SelectOption(ctx context.Context, selector string, values []string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	missing, err := missingOptions(el, values)
	if err != nil {
		return mapError(err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("no option with value %q", missing[0])
	}
	return mapError(el.Select(optionSelectors(values), true, rod.SelectorTypeCSSSector))
}

// optionSelectors matches options by their value attribute.
func optionSelectors(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf(`option[value=%s]`, cssString(v))
	}
	return out
}

func cssString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\a `)
	return `"` + v + `"`
}

const missingOptionsJS = `function(values) {
	const have = new Set(Array.from(this.options || []).map(o => o.value));
	return values.filter(v => !have.has(v));
}`

// missingOptions returns the values with no matching option in el.
func missingOptions(el *rod.Element, values []string) ([]string, error) {
	res, err := el.Eval(missingOptionsJS, values)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, v := range res.Value.Arr() {
		missing = append(missing, v.Str())
	}
	return missing, nil
}

func (p *page) SetInputFiles(ctx context.Context, selector string, files []string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return mapError(el.SetFiles(files))
}

func (p *page) Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Format == "jpeg" {
		quality := opts.Quality
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &quality
	}
	data, err := p.bound(ctx).Screenshot(opts.FullPage, req)
	return data, mapError(err)
}

func (p *page) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := p.bound(ctx).Evaluate(&rod.EvalOptions{
		JS:           wrapScript(script),
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return res.Value.Val(), nil
}

// wrapScript turns an expression or function source into a function body.
// The source sits on its own lines so a trailing line comment cannot swallow
// the closing parenthesis.
func wrapScript(script string) string {
	body := strings.TrimRight(strings.TrimSpace(script), ";")
	return fmt.Sprintf("function() { const __v = (\n%s\n); return typeof __v === 'function' ? __v() : __v }", body)
}

func (p *page) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch state {
	case "", "attached", "visible":
		el, err := p.element(ctx, selector)
		if err != nil {
			return err
		}
		if state == "attached" {
			return nil
		}
		return mapError(el.WaitVisible())
	case "detached", "hidden":
		q := parseSelector(selector)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			found, el, err := has(p.page.Context(ctx), q)
			if err != nil {
				return mapError(err)
			}
			if !found {
				return nil
			}
			if state == "hidden" {
				if visible, verr := el.Visible(); verr == nil && !visible {
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return mapError(ctx.Err())
			case <-ticker.C:
			}
		}
	default:
		return fmt.Errorf("unknown wait state %q", state)
	}
}

func (p *page) Content(ctx context.Context) (string, error) {
	html, err := p.bound(ctx).HTML()
	return html, mapError(err)
}

func (p *page) TextContent(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	el, err := p.element(ctx, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	return text, mapError(err)
}

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	return mapError(p.bound(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}))
}

func (p *page) BringToFront(ctx context.Context) error {
	_, err := p.bound(ctx).Activate()
	return mapError(err)
}

func (p *page) Close(ctx context.Context) error {
	p.stop()
	return mapError(p.page.Close())
}

// Listen subscribes to CDP events on a background context owned by the page.
func (p *page) Listen(l engine.Listeners) {
	lctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	var handlers []interface{}
	if l.Dialog != nil {
		handlers = append(handlers, func(e *proto.PageJavascriptDialogOpening) {
			go l.Dialog(&dialog{page: p.page, typ: string(e.Type), message: e.Message})
		})
	}
	if l.Load != nil {
		handlers = append(handlers, func(*proto.PageLoadEventFired) {
			go l.Load()
		})
	}
	if l.Console != nil {
		handlers = append(handlers, func(e *proto.RuntimeConsoleAPICalled) {
			l.Console(engine.ConsoleMessage{
				Level: string(e.Type),
				Text:  stringifyConsoleArgs(e.Args),
				Time:  time.Now(),
			})
		})
	}
	if l.Network != nil {
		handlers = append(handlers,
			func(e *proto.NetworkRequestWillBeSent) {
				if e.Request == nil {
					return
				}
				l.Network(engine.NetworkEvent{
					Method:       e.Request.Method,
					URL:          e.Request.URL,
					ResourceType: string(e.Type),
					Time:         time.Now(),
				})
			},
			func(e *proto.NetworkResponseReceived) {
				if e.Response == nil {
					return
				}
				l.Network(engine.NetworkEvent{
					URL:          e.Response.URL,
					Status:       e.Response.Status,
					ResourceType: string(e.Type),
					Response:     true,
					Time:         time.Now(),
				})
			},
		)
	}
	if l.Closed != nil {
		go p.page.Browser().Context(lctx).EachEvent(closedHandler(p.page.TargetID, l.Closed))()
	}
	if len(handlers) == 0 {
		return
	}
	go p.page.Context(lctx).EachEvent(handlers...)()
}

// closedHandler fires onClosed once when the target id is destroyed and stops
// the subscription.
func closedHandler(id proto.TargetTargetID, onClosed func()) func(*proto.TargetTargetDestroyed) bool {
	return func(e *proto.TargetTargetDestroyed) bool {
		if e.TargetID != id {
			return false
		}
		go onClosed()
		return true
	}
}

func (p *page) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

type dialog struct {
	page    *rod.Page
	typ     string
	message string
}

func (d *dialog) Type() string    { return d.typ }
func (d *dialog) Message() string { return d.message }

func (d *dialog) Accept(promptText string) error {
	return proto.PageHandleJavaScriptDialog{Accept: true, PromptText: promptText}.Call(d.page)
}

func (d *dialog) Dismiss() error {
	return proto.PageHandleJavaScriptDialog{Accept: false}.Call(d.page)
}
