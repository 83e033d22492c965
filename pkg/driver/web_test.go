package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/engine/enginetest"
	"github.com/entrhq/pilot/pkg/session"
)

func TestWebLaunch(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{URL: "https://example.com"})

	require.Equal(t, session.KindWeb, s.Kind)
	require.NotEmpty(t, s.ID)
	require.Equal(t, session.MainSurfaceID, s.ActiveID())
	require.Equal(t, "chromium", s.Web().Browser)

	sf, err := s.Surface("")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", sf.URL())

	require.Len(t, l.Options, 1)
	assert.True(t, l.Options[0].Headless)
	require.NotNil(t, l.Options[0].Viewport)
	assert.Equal(t, 1280, l.Options[0].Viewport.Width)
}

func TestWebLaunchFreshIDs(t *testing.T) {
	w, _ := newTestWeb(t)
	a := launchWeb(t, w, LaunchOptions{})
	b := launchWeb(t, w, LaunchOptions{})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWebLaunchUnknownBrowser(t *testing.T) {
	w, l := newTestWeb(t)
	_, err := w.Launch(context.Background(), LaunchOptions{Browser: "netscape"})

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, launchErr.Error(), "netscape")
	assert.Empty(t, l.Launched)
}

func TestWebLaunchEngineFailure(t *testing.T) {
	l := &enginetest.Launcher{Err: errors.New("executable doesn't exist")}
	w := NewWeb(l, testConfig(t), nil)

	_, err := w.Launch(context.Background(), LaunchOptions{})
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, err.Error(), "executable doesn't exist")
}

func TestWebLaunchTimeout(t *testing.T) {
	l := &enginetest.Launcher{Delay: time.Second}
	w := NewWeb(l, testConfig(t), nil)

	_, err := w.Launch(context.Background(), LaunchOptions{Timeout: 20 * time.Millisecond})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, OpLaunch, timeout.Op)
	assert.Empty(t, l.Launched)
}

func TestWebCloseReleasesEngine(t *testing.T) {
	w, l := newTestWeb(t)
	s, err := w.Launch(context.Background(), LaunchOptions{})
	require.NoError(t, err)

	page := l.Last().Page(0)
	require.NoError(t, w.Close(context.Background(), s))
	assert.True(t, l.Last().Closed())
	assert.True(t, page.IsClosed())
}

func TestWebCloseIsBestEffort(t *testing.T) {
	w, l := newTestWeb(t)
	s, err := w.Launch(context.Background(), LaunchOptions{})
	require.NoError(t, err)

	ectx := l.Last()
	ectx.Page(0).CloseErr = errors.New("page crashed")
	err = w.Close(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page crashed")
	assert.True(t, ectx.Closed())
}

func TestWebInteractionsRecordActions(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	page := l.Last().Page(0)

	require.NoError(t, w.Navigate(ctx, s, "", "https://example.com/login"))
	require.NoError(t, w.Type(ctx, s, TypeRequest{Target: Target{Selector: "#email"}, Text: "a@b.test", Submit: true}))
	require.NoError(t, w.Click(ctx, s, Target{Selector: "#go"}))
	require.NoError(t, w.Hover(ctx, s, Target{Selector: "#menu"}))
	require.NoError(t, w.Key(ctx, s, KeyRequest{Key: "Escape"}))
	require.NoError(t, w.Select(ctx, s, SelectRequest{Target: Target{Selector: "#size"}, Values: []string{"m", "l"}}))
	require.NoError(t, w.Drag(ctx, s, DragRequest{Source: "#card", Dest: "#done"}))

	var ops []string
	for _, c := range page.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"goto", "fill", "press", "click", "hover", "press", "select", "drag"}, ops)

	var types []string
	for _, a := range s.Actions.Actions() {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"navigate", "type", "key", "click", "hover", "key", "select", "drag"}, types)
}

func TestWebClickMissingElement(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	l.Last().Page(0).Missing["#nope"] = true

	err := w.Click(context.Background(), s, Target{Selector: "#nope"})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, OpClick, driverErr.Op)
	assert.Empty(t, s.Actions.Actions())
}

func TestWebRequiresSelector(t *testing.T) {
	w, _ := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})

	err := w.Click(context.Background(), s, Target{})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Contains(t, err.Error(), "selector is required")
}

func TestWebHistory(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, w.Navigate(ctx, s, "", "https://a.test"))
	require.NoError(t, w.Navigate(ctx, s, "", "https://b.test"))
	require.NoError(t, w.Back(ctx, s, ""))

	sf, _ := s.Surface("")
	assert.Equal(t, "https://a.test", sf.URL())

	require.NoError(t, w.Forward(ctx, s, ""))
	assert.Equal(t, "https://b.test", sf.URL())

	require.NoError(t, w.Refresh(ctx, s, ""))
	assert.Equal(t, "https://b.test", l.Last().Page(0).URL())
}

func TestWebUpload(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	file := filepath.Join(t.TempDir(), "avatar.png")
	require.NoError(t, os.WriteFile(file, []byte("png"), 0600))

	require.NoError(t, w.Upload(ctx, s, UploadRequest{Target: Target{Selector: "#file"}, Files: []string{file}}))
	calls := l.Last().Page(0).Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "upload", last.Op)
	assert.Equal(t, []string{file}, last.Args)

	err := w.Upload(ctx, s, UploadRequest{Target: Target{Selector: "#file"}, Files: []string{filepath.Join(t.TempDir(), "missing.png")}})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
}

func TestWebEvaluate(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	page := l.Last().Page(0)
	page.EvalFunc = func(script string) (any, error) {
		if strings.HasPrefix(script, "function {") {
			return nil, errors.New("SyntaxError: Function statements require a function name")
		}
		return script, nil
	}

	v, err := w.Evaluate(ctx, s, "", "return 1+1")
	require.NoError(t, err)
	assert.Equal(t, "(() => {\nreturn 1+1\n})()", v)

	v, err = w.Evaluate(ctx, s, "", "() => 1+1")
	require.NoError(t, err)
	assert.Equal(t, "() => 1+1", v)

	_, err = w.Evaluate(ctx, s, "", "function { return 1 }")
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "function { return 1 }", evalErr.Script)
	assert.Contains(t, evalErr.Message, "SyntaxError")

	_, err = w.Evaluate(ctx, s, "", "   ")
	require.ErrorAs(t, err, &evalErr)
}

func TestWebEvaluateTimeout(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	l.Last().Page(0).EvalFunc = func(string) (any, error) {
		return nil, engine.ErrTimeout
	}

	_, err := w.Evaluate(context.Background(), s, "", "while (true) {}")
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, OpEvaluate, timeout.Op)
}

func TestWebWaitForSelector(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	l.Last().Page(0).Missing["#late"] = true

	require.NoError(t, w.WaitForSelector(ctx, s, WaitRequest{Target: Target{Selector: "#ready"}}))

	err := w.WaitForSelector(ctx, s, WaitRequest{Target: Target{Selector: "#late"}, Timeout: 50 * time.Millisecond})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 50*time.Millisecond, timeout.Timeout)

	err = w.WaitForSelector(ctx, s, WaitRequest{Target: Target{Selector: "#ready"}, State: "shiny"})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
}

func snapshotTree() *engine.Node {
	return &engine.Node{Role: "RootWebArea", Name: "Login", Children: []*engine.Node{
		{Role: "heading", Name: "Welcome", Props: map[string]string{"level": "1"}},
		{Role: "form", Children: []*engine.Node{
			{Role: "textbox", Name: "Email"},
			{Role: "button", Name: `Say "hi"`},
		}},
		{Role: "link", Name: "Sign in"},
	}}
}

func TestWebSnapshotRefs(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{URL: "https://example.com/login"})
	ctx := context.Background()
	page := l.Last().Page(0)
	page.Tree = snapshotTree()
	page.Titles["https://example.com/login"] = "Login"

	snap, err := w.Snapshot(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, session.MainSurfaceID, snap.Surface)
	assert.Equal(t, "Login", snap.Title)
	require.Len(t, snap.Refs, 5)
	assert.Equal(t, "e1", snap.Refs[0].ID)
	assert.Equal(t, `role=heading[name="Welcome"s]`, snap.Refs[0].Selector)
	assert.Equal(t, `role=form`, snap.Refs[1].Selector)
	assert.Equal(t, `role=textbox[name="Email"s]`, snap.Refs[2].Selector)
	assert.Equal(t, `role=button[name="Say \"hi\""s]`, snap.Refs[3].Selector)
	assert.Equal(t, 1, snap.Refs[2].Level)
	assert.Contains(t, snap.Document, "ref: e5")
	assert.Contains(t, snap.Document, "url: https://example.com/login")

	require.NoError(t, w.Click(ctx, s, Target{Selector: "e5"}))
	calls := page.Calls()
	assert.Equal(t, `role=link[name="Sign in"s]`, calls[len(calls)-1].Selector)
}

func TestWebSameNamedRefsTargetDistinctElements(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	page := l.Last().Page(0)
	page.Tree = &engine.Node{Role: "RootWebArea", Children: []*engine.Node{
		{Role: "button", Name: "Delete"},
		{Role: "link", Name: "Delete"},
		{Role: "button", Name: "Delete"},
	}}

	_, err := w.Snapshot(ctx, s, "")
	require.NoError(t, err)

	var sent []string
	for _, ref := range []string{"e1", "e2", "e3"} {
		require.NoError(t, w.Click(ctx, s, Target{Selector: ref}))
		calls := page.Calls()
		sent = append(sent, calls[len(calls)-1].Selector)
	}
	assert.Equal(t, []string{
		`role=button[name="Delete"s]`,
		`role=link[name="Delete"s]`,
		`role=button[name="Delete"s] >> nth=1`,
	}, sent)
}

func TestWebRefsGoStaleOnNavigation(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	l.Last().Page(0).Tree = snapshotTree()

	_, err := w.Snapshot(ctx, s, "")
	require.NoError(t, err)
	require.NoError(t, w.Navigate(ctx, s, "", "https://example.com/next"))

	err = w.Click(ctx, s, Target{Selector: "e1"})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Contains(t, err.Error(), "stale or unknown ref")

	err = w.Click(ctx, s, Target{Selector: "e99"})
	require.ErrorAs(t, err, &driverErr)
}

func TestWebContent(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	l.Last().Page(0).HTML = `<html><head><title>Shop</title><script>track()</script></head><body><h1>Deals</h1></body></html>`

	raw, err := w.Content(ctx, s, ContentRequest{})
	require.NoError(t, err)
	assert.Contains(t, raw, "track()")

	cleaned, err := w.Content(ctx, s, ContentRequest{Clean: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cleaned, "Title: Shop\n"))
	assert.Contains(t, cleaned, "Deals")
	assert.NotContains(t, cleaned, "track()")

	short, err := w.Content(ctx, s, ContentRequest{MaxLength: 10})
	require.NoError(t, err)
	assert.Contains(t, short, "[Content truncated")
}

func TestWebTextContent(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	page := l.Last().Page(0)
	page.Texts["body"] = "whole page"
	page.Texts["#price"] = "$10"

	text, err := w.TextContent(context.Background(), s, Target{})
	require.NoError(t, err)
	assert.Equal(t, "whole page", text)

	text, err = w.TextContent(context.Background(), s, Target{Selector: "#price"})
	require.NoError(t, err)
	assert.Equal(t, "$10", text)
}

func TestWebScreenshot(t *testing.T) {
	w, _ := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	res, err := w.Screenshot(ctx, s, ScreenshotRequest{})
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(res.Path))
	assert.Equal(t, "image/jpeg", res.MIMEType)
	assert.Equal(t, w.cfg.Screenshot.Dir, filepath.Dir(res.Path))
	assert.FileExists(t, res.Path)

	off := false
	res, err = w.Screenshot(ctx, s, ScreenshotRequest{Compress: &off})
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(res.Path))
	assert.Equal(t, "image/png", res.MIMEType)

	explicit := filepath.Join(t.TempDir(), "nested", "shot.png")
	res, err = w.Screenshot(ctx, s, ScreenshotRequest{Path: explicit, Compress: &off})
	require.NoError(t, err)
	assert.Equal(t, explicit, res.Path)
	data, err := os.ReadFile(explicit)
	require.NoError(t, err)
	assert.Equal(t, res.Data, data)
}

func TestWebTabs(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	info, err := w.NewTab(ctx, s, "https://docs.test")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", info.ID)
	assert.False(t, info.Active)
	assert.Equal(t, "https://docs.test", info.URL)
	assert.Equal(t, session.MainSurfaceID, s.ActiveID())

	// A popup opened by the page shows up on the next listing.
	l.Last().AddPage("https://popup.test")
	tabs, err := w.Tabs(ctx, s)
	require.NoError(t, err)
	require.Len(t, tabs, 3)
	assert.Equal(t, "tab-2", tabs[2].ID)
	assert.True(t, tabs[0].Active)

	require.NoError(t, w.SelectTab(ctx, s, "tab-1"))
	assert.Equal(t, "tab-1", s.ActiveID())

	var notFound *session.SurfaceNotFoundError
	require.ErrorAs(t, w.SelectTab(ctx, s, "tab-9"), &notFound)

	active, err := w.CloseTab(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, session.MainSurfaceID, active)

	_, err = w.CloseTab(ctx, s, "tab-1")
	require.ErrorAs(t, err, &notFound)
}

func TestWebNewTabFailedNavigationClosesTab(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()
	l.Last().GotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := w.NewTab(ctx, s, "https://nowhere.invalid")
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)

	require.Len(t, s.Surfaces(), 1)
	assert.Equal(t, session.MainSurfaceID, s.ActiveID())
	pages, err := l.Last().Pages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	l.Last().GotoErr = nil
	info, err := w.NewTab(ctx, s, "https://docs.test")
	require.NoError(t, err)
	assert.Equal(t, "tab-2", info.ID)
}

func TestWebClosingLastTabLeavesSessionUnusable(t *testing.T) {
	w, _ := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	active, err := w.CloseTab(ctx, s, session.MainSurfaceID)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, s.Usable())

	err = w.Click(ctx, s, Target{Selector: "#a"})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.ErrorIs(t, err, session.ErrNoSurfaces)
}

func TestWebDialogPolicy(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	page := l.Last().Page(0)

	d := &enginetest.Dialog{Kind: "confirm", Text: "Leave?"}
	page.FireDialog(d)
	handled, accepted, _ := d.Result()
	assert.True(t, handled)
	assert.False(t, accepted)

	require.NoError(t, w.SetDialogPolicy(context.Background(), s, session.DialogPolicy{Accept: true, PromptText: "pilot"}))
	d = &enginetest.Dialog{Kind: "prompt", Text: "Name?"}
	page.FireDialog(d)
	handled, accepted, text := d.Result()
	assert.True(t, handled)
	assert.True(t, accepted)
	assert.Equal(t, "pilot", text)
}

func TestWebSetViewport(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})

	require.NoError(t, w.SetViewport(context.Background(), s, ViewportRequest{Width: 390, Height: 844}))
	assert.Equal(t, engine.Viewport{Width: 390, Height: 844}, l.Last().Page(0).Viewport())

	err := w.SetViewport(context.Background(), s, ViewportRequest{Width: 0, Height: 844})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
}

func TestWebNetworkRequests(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	page := l.Last().Page(0)

	page.FireNetwork(engine.NetworkEvent{Method: "GET", URL: "https://api.test/users"})
	page.FireNetwork(engine.NetworkEvent{Method: "GET", URL: "https://cdn.test/app.js"})
	page.FireNetwork(engine.NetworkEvent{Method: "POST", URL: "https://api.test/orders"})

	all, err := w.NetworkRequests(context.Background(), s, NetworkQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	api, err := w.NetworkRequests(context.Background(), s, NetworkQuery{Filter: "api.test"})
	require.NoError(t, err)
	assert.Len(t, api, 2)

	scripts, err := w.NetworkRequests(context.Background(), s, NetworkQuery{Filter: "*.js"})
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "https://cdn.test/app.js", scripts[0].URL)

	last, err := w.NetworkRequests(context.Background(), s, NetworkQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "https://api.test/orders", last[0].URL)
}

func TestWebConsoleMessages(t *testing.T) {
	w, l := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	page := l.Last().Page(0)

	page.FireConsole(engine.ConsoleMessage{Level: "log", Text: "ready"})
	page.FireConsole(engine.ConsoleMessage{Level: "error", Text: "boom"})

	errs, err := w.ConsoleMessages(context.Background(), s, ConsoleQuery{Level: "ERROR"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Text)
}

func TestWebExportScript(t *testing.T) {
	w, _ := newTestWeb(t)
	s := launchWeb(t, w, LaunchOptions{})
	ctx := context.Background()

	require.NoError(t, w.Navigate(ctx, s, "", "https://example.com"))
	require.NoError(t, w.Click(ctx, s, Target{Selector: "#buy"}))

	out, err := w.ExportScript(ctx, s, "checkout")
	require.NoError(t, err)
	assert.Contains(t, out, "test('checkout'")
	assert.Contains(t, out, "await page.goto('https://example.com');")
	assert.Contains(t, out, ".click();")
}
