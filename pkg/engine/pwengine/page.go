package pwengine

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pilot/pkg/engine"
)

// page adapts playwright.Page.
type page struct {
	id   string
	page playwright.Page
}

func (p *page) ID() string  { return p.id }
func (p *page) URL() string { return p.page.URL() }

func (p *page) Title(ctx context.Context) (string, error) {
	return p.page.Title()
}

func (p *page) Goto(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: timeoutMs(ctx)})
	if err != nil {
		return mapError(fmt.Errorf("navigation failed: %w", err))
	}
	return nil
}

func (p *page) Back(ctx context.Context) error {
	_, err := p.page.GoBack(playwright.PageGoBackOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Forward(ctx context.Context) error {
	_, err := p.page.GoForward(playwright.PageGoForwardOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Reload(ctx context.Context) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) locator(selector string) playwright.Locator {
	return p.page.Locator(selector).First()
}

func (p *page) Click(ctx context.Context, selector string) error {
	err := p.locator(selector).Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Fill(ctx context.Context, selector, text string) error {
	err := p.locator(selector).Fill(text, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Hover(ctx context.Context, selector string) error {
	err := p.locator(selector).Hover(playwright.LocatorHoverOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Drag(ctx context.Context, source, target string) error {
	err := p.locator(source).DragTo(p.locator(target), playwright.LocatorDragToOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Press(ctx context.Context, selector, key string) error {
	if selector == "" {
		return mapError(p.page.Keyboard().Press(key))
	}
	err := p.locator(selector).Press(key, playwright.LocatorPressOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) SelectOption(ctx context.Context, selector string, values []string) error {
	_, err := p.locator(selector).SelectOption(
		playwright.SelectOptionValues{Values: &values},
		playwright.LocatorSelectOptionOptions{Timeout: timeoutMs(ctx)},
	)
	return mapError(err)
}

func (p *page) SetInputFiles(ctx context.Context, selector string, files []string) error {
	err := p.locator(selector).SetInputFiles(files, playwright.LocatorSetInputFilesOptions{Timeout: timeoutMs(ctx)})
	return mapError(err)
}

func (p *page) Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error) {
	shotOpts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Timeout:  timeoutMs(ctx),
	}
	if opts.Format == "jpeg" {
		shotOpts.Type = playwright.ScreenshotTypeJpeg
		shotOpts.Quality = playwright.Int(opts.Quality)
	} else {
		shotOpts.Type = playwright.ScreenshotTypePng
	}
	data, err := p.page.Screenshot(shotOpts)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

func (p *page) Evaluate(ctx context.Context, script string) (any, error) {
	return p.page.Evaluate(script)
}

func (p *page) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	opts := playwright.LocatorWaitForOptions{}
	if state != "" {
		st := playwright.WaitForSelectorState(state)
		opts.State = &st
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	} else {
		opts.Timeout = timeoutMs(ctx)
	}
	return mapError(p.locator(selector).WaitFor(opts))
}

func (p *page) Content(ctx context.Context) (string, error) {
	return p.page.Content()
}

func (p *page) TextContent(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	text, err := p.locator(selector).TextContent(playwright.LocatorTextContentOptions{Timeout: timeoutMs(ctx)})
	return text, mapError(err)
}

func (p *page) AccessibilityTree(ctx context.Context) (*engine.Node, error) {
	doc, err := p.page.Locator("body").AriaSnapshot(playwright.LocatorAriaSnapshotOptions{Timeout: timeoutMs(ctx)})
	if err != nil {
		return nil, mapError(fmt.Errorf("aria snapshot failed: %w", err))
	}
	return ParseAriaSnapshot(doc)
}

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	return p.page.SetViewportSize(width, height)
}

func (p *page) BringToFront(ctx context.Context) error {
	return p.page.BringToFront()
}

func (p *page) Close(ctx context.Context) error {
	return p.page.Close()
}

// Listen wires Playwright's typed events. Callbacks are dispatched on their own
// goroutine because Playwright delivers events on its connection loop, and a
// callback that calls back into Playwright there would deadlock.
func (p *page) Listen(l engine.Listeners) {
	if l.Dialog != nil {
		p.page.OnDialog(func(d playwright.Dialog) {
			go l.Dialog(dialog{d})
		})
	}
	if l.Load != nil {
		p.page.OnLoad(func(playwright.Page) {
			go l.Load()
		})
	}
	if l.Console != nil {
		p.page.OnConsole(func(m playwright.ConsoleMessage) {
			msg := engine.ConsoleMessage{Level: m.Type(), Text: m.Text(), Time: time.Now()}
			if loc := m.Location(); loc != nil {
				msg.URL = loc.URL
			}
			l.Console(msg)
		})
	}
	if l.Network != nil {
		p.page.OnRequest(func(r playwright.Request) {
			l.Network(engine.NetworkEvent{
				Method:       r.Method(),
				URL:          r.URL(),
				ResourceType: r.ResourceType(),
				Time:         time.Now(),
			})
		})
		p.page.OnResponse(func(r playwright.Response) {
			ev := engine.NetworkEvent{
				URL:      r.URL(),
				Status:   r.Status(),
				Response: true,
				Time:     time.Now(),
			}
			if req := r.Request(); req != nil {
				ev.Method = req.Method()
				ev.ResourceType = req.ResourceType()
			}
			l.Network(ev)
		})
	}
	if l.Closed != nil {
		p.page.OnClose(func(playwright.Page) {
			go l.Closed()
		})
	}
}

type dialog struct {
	d playwright.Dialog
}

func (d dialog) Type() string    { return d.d.Type() }
func (d dialog) Message() string { return d.d.Message() }

func (d dialog) Accept(promptText string) error {
	if promptText == "" {
		return d.d.Accept()
	}
	return d.d.Accept(promptText)
}

func (d dialog) Dismiss() error { return d.d.Dismiss() }
