package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/pilot/pkg/driver"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/session"
)

// call carries one validated request through its handler.
type call struct {
	srv  *Server
	op   driver.Op
	args *args
	// sess and drv are set for session-scoped operations.
	sess *session.Session
	drv  driver.Driver
}

func (c *call) surface() string { return c.args.str("surfaceId") }

func (c *call) target() driver.Target {
	return driver.Target{Surface: c.surface(), Selector: c.args.str("selector")}
}

type handler func(ctx context.Context, c *call) (*Response, error)

// opSpec declares one operation of the protocol.
type opSpec struct {
	op          driver.Op
	description string
	props       map[string]any
	required    []string
	// session marks operations addressed to a live session: sessionId is
	// required and resolved before the handler runs.
	session bool
	// surface adds the optional surfaceId argument.
	surface bool
	handle  handler
}

func (o *opSpec) schema() map[string]any {
	props := make(map[string]any, len(o.props)+2)
	for k, v := range o.props {
		props[k] = v
	}
	required := append([]string(nil), o.required...)
	if o.session {
		props["sessionId"] = sessionIDProp
		required = append([]string{"sessionId"}, required...)
	}
	if o.surface {
		props["surfaceId"] = surfaceIDProp
	}
	return BaseSchema(props, required)
}

// operations is the fixed registry of protocol operations, in listing order.
func operations() []*opSpec {
	return []*opSpec{
		{
			op:          driver.OpLaunch,
			description: "Launch a browser or Electron application and return its session id.",
			props:       map[string]any{
				"target":           enumProp("Automation target; defaults to the configured target", "web", "electron"),
				"browser":          enumProp("Browser engine for web targets", "chromium", "firefox", "webkit"),
				"url":              stringProp("Page to open after launch (web)"),
				"executablePath":   stringProp("Path to the Electron application binary (electron, required)"),
				"args":             stringsProp("Extra process arguments"),
				"env":              objectProp("Extra environment variables"),
				"workingDir":       stringProp("Working directory; Electron file access is confined to it"),
				"headless":         boolProp("Run without a visible window"),
				"viewportWidth":    intProp("Initial viewport width in pixels"),
				"viewportHeight":   intProp("Initial viewport height in pixels"),
				"timeout":          intProp("Launch timeout in milliseconds"),
				"includeSnapshots": boolProp("Append an accessibility snapshot to every mutating operation's result"),
			},
			handle: handleLaunch,
		},
		{
			op:          driver.OpClose,
			description: "Close a session and every tab or window it owns. Closing an already closed session succeeds.",
			props:       map[string]any{"sessionId": sessionIDProp},
			required:    []string{"sessionId"},
			handle:      handleClose,
		},
		{
			op:          driver.OpListSessions,
			description: "List live sessions with their surfaces and timestamps.",
			props:       map[string]any{},
			handle:      handleListSessions,
		},
		{
			op:          driver.OpNavigate,
			description: "Navigate a tab to a URL (web only). Refs from earlier snapshots become stale.",
			props:       map[string]any{"url": stringProp("Absolute URL to open")},
			required:    []string{"url"},
			session:     true,
			surface:     true,
			handle:      handleNavigate,
		},
		{
			op:          driver.OpClick,
			description: "Click an element.",
			props:       map[string]any{"selector": selectorProp},
			required:    []string{"selector"},
			session:     true,
			surface:     true,
			handle:      handleClick,
		},
		{
			op:          driver.OpType,
			description: "Replace the value of an input with text, optionally pressing Enter afterwards.",
			props:       map[string]any{
				"selector": selectorProp,
				"text":     stringProp("Text to enter"),
				"submit":   boolProp("Press Enter after typing"),
			},
			required: []string{"selector", "text"},
			session:  true,
			surface:  true,
			handle:   handleType,
		},
		{
			op:          driver.OpScreenshot,
			description: "Capture the surface as an image and return the file path. JPEG when compressed, PNG otherwise.",
			props:       map[string]any{
				"path":     stringProp("Output file; a timestamped file in the screenshot directory when omitted"),
				"fullPage": boolProp("Capture the full scrollable page"),
				"compress": boolProp("Write JPEG instead of PNG; defaults to the configured setting"),
				"quality":  intProp("JPEG quality from 1 to 100"),
			},
			session: true,
			surface: true,
			handle:  handleScreenshot,
		},
		{
			op:          driver.OpEvaluate,
			description: "Evaluate JavaScript in the page and return the JSON result. Bodies starting with 'return' are wrapped in a function.",
			props:       map[string]any{"script": stringProp("Expression, function or statement body")},
			required:    []string{"script"},
			session:     true,
			surface:     true,
			handle:      handleEvaluate,
		},
		{
			op:          driver.OpWaitForSelector,
			description: "Wait until an element reaches a state.",
			props:       map[string]any{
				"selector": selectorProp,
				"state":    enumProp("State to wait for; visible by default", "attached", "detached", "visible", "hidden"),
				"timeout":  intProp("Timeout in milliseconds; 30000 by default"),
			},
			required: []string{"selector"},
			session:  true,
			surface:  true,
			handle:   handleWait,
		},
		{
			op:          driver.OpSnapshot,
			description: "Return the accessibility tree with refs (e1, e2, ...) usable as selectors until the next navigation or snapshot.",
			props:       map[string]any{},
			session:     true,
			surface:     true,
			handle:      handleSnapshot,
		},
		{
			op:          driver.OpHover,
			description: "Move the pointer over an element.",
			props:       map[string]any{"selector": selectorProp},
			required:    []string{"selector"},
			session:     true,
			surface:     true,
			handle:      handleHover,
		},
		{
			op:          driver.OpDrag,
			description: "Drag one element onto another.",
			props:       map[string]any{
				"source": stringProp("Selector or ref of the element to drag"),
				"target": stringProp("Selector or ref of the drop target"),
			},
			required: []string{"source", "target"},
			session:  true,
			surface:  true,
			handle:   handleDrag,
		},
		{
			op:          driver.OpKey,
			description: "Press a key or chord such as 'Enter' or 'Control+A', optionally on a focused element.",
			props:       map[string]any{
				"key":      stringProp("Key name or chord"),
				"selector": selectorProp,
			},
			required: []string{"key"},
			session:  true,
			surface:  true,
			handle:   handleKey,
		},
		{
			op:          driver.OpSelect,
			description: "Select options of a <select> element by value.",
			props:       map[string]any{
				"selector": selectorProp,
				"values":   stringsProp("Option values to select"),
			},
			required: []string{"selector", "values"},
			session:  true,
			surface:  true,
			handle:   handleSelect,
		},
		{
			op:          driver.OpUpload,
			description: "Set the files of a file input.",
			props:       map[string]any{
				"selector": selectorProp,
				"files":    stringsProp("Local file paths"),
			},
			required: []string{"selector", "files"},
			session:  true,
			surface:  true,
			handle:   handleUpload,
		},
		{
			op:          driver.OpBack,
			description: "Go back in history.",
			props:       map[string]any{},
			session:     true,
			surface:     true,
			handle:      historyHandler(driver.Driver.Back),
		},
		{
			op:          driver.OpForward,
			description: "Go forward in history.",
			props:       map[string]any{},
			session:     true,
			surface:     true,
			handle:      historyHandler(driver.Driver.Forward),
		},
		{
			op:          driver.OpRefresh,
			description: "Reload the page.",
			props:       map[string]any{},
			session:     true,
			surface:     true,
			handle:      historyHandler(driver.Driver.Refresh),
		},
		{
			op:          driver.OpContent,
			description: "Return the page HTML, raw or cleaned of scripts, styles and noise.",
			props:       map[string]any{
				"clean":     boolProp("Return semantic HTML only"),
				"maxLength": intProp("Truncate after this many characters"),
			},
			session: true,
			surface: true,
			handle:  handleContent,
		},
		{
			op:          driver.OpTextContent,
			description: "Return the visible text of an element, or of the page when no selector is given.",
			props:       map[string]any{"selector": selectorProp},
			session:     true,
			surface:     true,
			handle:      handleTextContent,
		},
		{
			op:          driver.OpInvokeIPC,
			description: "Invoke an Electron IPC channel through ipcRenderer.invoke and return its reply (electron only).",
			props:       map[string]any{
				"channel": stringProp("IPC channel name"),
				"args":    arrayProp("Arguments passed to the handler"),
			},
			required: []string{"channel"},
			session:  true,
			surface:  true,
			handle:   handleInvokeIPC,
		},
		{
			op:          driver.OpGetWindows,
			description: "List the application's windows classified as main, devtools or other (electron only).",
			props:       map[string]any{},
			session:     true,
			handle:      handleWindows,
		},
		{
			op:          driver.OpReadFile,
			description: "Read a text file inside the application's working directory (electron only).",
			props:       map[string]any{"path": stringProp("Path relative to the working directory")},
			required:    []string{"path"},
			session:     true,
			handle:      handleReadFile,
		},
		{
			op:          driver.OpWriteFile,
			description: "Write a text file inside the application's working directory (electron only).",
			props:       map[string]any{
				"path":    stringProp("Path relative to the working directory"),
				"content": stringProp("File content"),
			},
			required: []string{"path", "content"},
			session:  true,
			handle:   handleWriteFile,
		},
		{
			op:          driver.OpNewTab,
			description: "Open a new tab, optionally at a URL. The active tab does not change (web only).",
			props:       map[string]any{"url": stringProp("Page to open")},
			session:     true,
			handle:      handleNewTab,
		},
		{
			op:          driver.OpListTabs,
			description: "List tabs, including popups opened by pages (web only).",
			props:       map[string]any{},
			session:     true,
			handle:      handleListTabs,
		},
		{
			op:          driver.OpSelectTab,
			description: "Make a tab the active surface (web only).",
			props:       map[string]any{"tabId": stringProp("Tab id from listTabs")},
			required:    []string{"tabId"},
			session:     true,
			handle:      handleSelectTab,
		},
		{
			op:          driver.OpCloseTab,
			description: "Close a tab, the active one when tabId is omitted (web only).",
			props:       map[string]any{"tabId": stringProp("Tab id from listTabs")},
			session:     true,
			handle:      handleCloseTab,
		},
		{
			op:          driver.OpSetDialogPolicy,
			description: "Choose whether alert, confirm and prompt dialogs are accepted or dismissed (web only).",
			props:       map[string]any{
				"accept":     boolProp("Accept dialogs instead of dismissing them"),
				"promptText": stringProp("Text entered into accepted prompts"),
			},
			required: []string{"accept"},
			session:  true,
			handle:   handleSetDialogPolicy,
		},
		{
			op:          driver.OpSetViewport,
			description: "Resize the viewport (web only).",
			props:       map[string]any{
				"width":  intProp("Width in pixels"),
				"height": intProp("Height in pixels"),
			},
			required: []string{"width", "height"},
			session:  true,
			surface:  true,
			handle:   handleSetViewport,
		},
		{
			op:          driver.OpGetNetworkRequests,
			description: "Return recent network requests and responses, oldest first (web only).",
			props:       map[string]any{
				"filter": stringProp("URL glob such as '*/api/*'; plain text matches as a substring"),
				"limit":  intProp("Return at most this many of the newest entries"),
			},
			session: true,
			handle:  handleNetwork,
		},
		{
			op:          driver.OpGetConsoleMessages,
			description: "Return recent console messages, oldest first (web only).",
			props:       map[string]any{
				"level": stringProp("Only messages of this level, such as 'error'"),
				"limit": intProp("Return at most this many of the newest entries"),
			},
			session: true,
			handle:  handleConsole,
		},
		{
			op:          driver.OpExportScript,
			description: "Export the session's recorded actions as a Playwright test (web only).",
			props:       map[string]any{"testName": stringProp("Name of the generated test")},
			session:     true,
			handle:      handleExportScript,
		},
	}
}

func handleLaunch(ctx context.Context, c *call) (*Response, error) {
	srv := c.srv
	target := c.args.str("target")
	if target == "" {
		target = srv.cfg.Server.DefaultTarget
	}
	opts := driver.LaunchOptions{
		Browser:        c.args.str("browser"),
		URL:            c.args.str("url"),
		ExecutablePath: c.args.str("executablePath"),
		Args:           c.args.strings("args"),
		Env:            c.args.stringMap("env"),
		WorkingDir:     c.args.str("workingDir"),
		Headless:       c.args.optBool("headless"),
		Timeout:        c.args.millis("timeout"),
	}
	width, height := c.args.integer("viewportWidth"), c.args.integer("viewportHeight")
	snapshots := c.args.optBool("includeSnapshots")
	if c.args.err != nil {
		return nil, c.args.err
	}
	if width > 0 && height > 0 {
		opts.Viewport = &engine.Viewport{Width: width, Height: height}
	}
	opts.IncludeSnapshots = srv.cfg.Server.AutoSnapshot
	if snapshots != nil {
		opts.IncludeSnapshots = *snapshots
	}

	drv, ok := srv.drivers[session.Kind(target)]
	if !ok {
		return nil, &ValidationError{Op: string(driver.OpLaunch), Arg: "target", Reason: fmt.Sprintf("must be one of %v, got %q", srv.kinds(), target)}
	}

	s, err := drv.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	srv.registry.Create(s)
	srv.sessionsChanged()
	srv.log.Infof("Session %s registered (%s)", s.ID, s.Kind)

	return jsonResponse(s.Info())
}

func handleClose(ctx context.Context, c *call) (*Response, error) {
	id := c.args.str("sessionId")
	if c.args.err != nil {
		return nil, c.args.err
	}
	srv := c.srv
	s, err := srv.registry.Get(id)
	if err != nil {
		if srv.registry.WasRemoved(id) {
			return textResponse("Session %s is already closed", id), nil
		}
		return nil, err
	}

	closeErr := srv.drivers[s.Kind].Close(ctx, s)
	srv.registry.Remove(id)
	srv.sessionsChanged()

	if closeErr != nil {
		srv.log.Warnf("Session %s closed with cleanup errors: %v", id, closeErr)
		return textResponse("Session %s closed; some resources failed to close: %v", id, closeErr), nil
	}
	return textResponse("Session %s closed", id), nil
}

func handleListSessions(ctx context.Context, c *call) (*Response, error) {
	sessions := c.srv.registry.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return jsonResponse(infos)
}

func handleNavigate(ctx context.Context, c *call) (*Response, error) {
	url, surface := c.args.str("url"), c.surface()
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Navigate(ctx, c.sess, surface, url); err != nil {
		return nil, err
	}
	sf, err := c.sess.Surface(surface)
	if err != nil {
		return textResponse("Navigated to %s", url), nil
	}
	return textResponse("Navigated %s to %s (title: %q)", sf.ID, sf.URL(), sf.Title()), nil
}

func handleClick(ctx context.Context, c *call) (*Response, error) {
	t := c.target()
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Click(ctx, c.sess, t); err != nil {
		return nil, err
	}
	return textResponse("Clicked %s", t.Selector), nil
}

func handleType(ctx context.Context, c *call) (*Response, error) {
	req := driver.TypeRequest{Target: c.target(), Text: c.args.str("text"), Submit: c.args.boolean("submit")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Type(ctx, c.sess, req); err != nil {
		return nil, err
	}
	if req.Submit {
		return textResponse("Typed %d characters into %s and pressed Enter", len(req.Text), req.Selector), nil
	}
	return textResponse("Typed %d characters into %s", len(req.Text), req.Selector), nil
}

func handleScreenshot(ctx context.Context, c *call) (*Response, error) {
	req := driver.ScreenshotRequest{
		Surface:  c.surface(),
		Path:     c.args.str("path"),
		FullPage: c.args.boolean("fullPage"),
		Compress: c.args.optBool("compress"),
		Quality:  c.args.integer("quality"),
	}
	if c.args.err != nil {
		return nil, c.args.err
	}
	res, err := c.drv.Screenshot(ctx, c.sess, req)
	if err != nil {
		return nil, err
	}
	resp := textResponse("%s", res.Path)
	resp.appendImage(res.Data, res.MIMEType)
	return resp, nil
}

func handleEvaluate(ctx context.Context, c *call) (*Response, error) {
	script, surface := c.args.str("script"), c.surface()
	if c.args.err != nil {
		return nil, c.args.err
	}
	v, err := c.drv.Evaluate(ctx, c.sess, surface, script)
	if err != nil {
		return nil, err
	}
	return jsonResponse(v)
}

func handleWait(ctx context.Context, c *call) (*Response, error) {
	req := driver.WaitRequest{Target: c.target(), State: c.args.str("state"), Timeout: c.args.millis("timeout")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.WaitForSelector(ctx, c.sess, req); err != nil {
		return nil, err
	}
	state := req.State
	if state == "" {
		state = "visible"
	}
	return textResponse("%s is %s", req.Selector, state), nil
}

func handleSnapshot(ctx context.Context, c *call) (*Response, error) {
	surface := c.surface()
	if c.args.err != nil {
		return nil, c.args.err
	}
	snap, err := c.drv.Snapshot(ctx, c.sess, surface)
	if err != nil {
		return nil, err
	}
	return textResponse("%s", snap.Document), nil
}

func handleHover(ctx context.Context, c *call) (*Response, error) {
	t := c.target()
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Hover(ctx, c.sess, t); err != nil {
		return nil, err
	}
	return textResponse("Hovered %s", t.Selector), nil
}

func handleDrag(ctx context.Context, c *call) (*Response, error) {
	req := driver.DragRequest{Surface: c.surface(), Source: c.args.str("source"), Dest: c.args.str("target")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Drag(ctx, c.sess, req); err != nil {
		return nil, err
	}
	return textResponse("Dragged %s onto %s", req.Source, req.Dest), nil
}

func handleKey(ctx context.Context, c *call) (*Response, error) {
	req := driver.KeyRequest{Target: c.target(), Key: c.args.str("key")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Key(ctx, c.sess, req); err != nil {
		return nil, err
	}
	return textResponse("Pressed %s", req.Key), nil
}

func handleSelect(ctx context.Context, c *call) (*Response, error) {
	req := driver.SelectRequest{Target: c.target(), Values: c.args.strings("values")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Select(ctx, c.sess, req); err != nil {
		return nil, err
	}
	return textResponse("Selected %v in %s", req.Values, req.Selector), nil
}

func handleUpload(ctx context.Context, c *call) (*Response, error) {
	req := driver.UploadRequest{Target: c.target(), Files: c.args.strings("files")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.Upload(ctx, c.sess, req); err != nil {
		return nil, err
	}
	return textResponse("Uploaded %d file(s) to %s", len(req.Files), req.Selector), nil
}

func historyHandler(move func(driver.Driver, context.Context, *session.Session, string) error) handler {
	return func(ctx context.Context, c *call) (*Response, error) {
		surface := c.surface()
		if c.args.err != nil {
			return nil, c.args.err
		}
		if err := move(c.drv, ctx, c.sess, surface); err != nil {
			return nil, err
		}
		sf, err := c.sess.Surface(surface)
		if err != nil {
			return textResponse("%s done", c.op), nil
		}
		return textResponse("%s done; %s is at %s", c.op, sf.ID, sf.URL()), nil
	}
}

func handleContent(ctx context.Context, c *call) (*Response, error) {
	req := driver.ContentRequest{Surface: c.surface(), Clean: c.args.boolean("clean"), MaxLength: c.args.integer("maxLength")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	content, err := c.drv.Content(ctx, c.sess, req)
	if err != nil {
		return nil, err
	}
	return textResponse("%s", content), nil
}

func handleTextContent(ctx context.Context, c *call) (*Response, error) {
	t := c.target()
	if c.args.err != nil {
		return nil, c.args.err
	}
	text, err := c.drv.TextContent(ctx, c.sess, t)
	if err != nil {
		return nil, err
	}
	return textResponse("%s", text), nil
}

func handleInvokeIPC(ctx context.Context, c *call) (*Response, error) {
	req := driver.IPCRequest{Surface: c.surface(), Channel: c.args.str("channel"), Args: c.args.list("args")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	v, err := c.drv.InvokeIPC(ctx, c.sess, req)
	if err != nil {
		return nil, err
	}
	return jsonResponse(v)
}

func handleWindows(ctx context.Context, c *call) (*Response, error) {
	windows, err := c.drv.Windows(ctx, c.sess)
	if err != nil {
		return nil, err
	}
	return jsonResponse(windows)
}

func handleReadFile(ctx context.Context, c *call) (*Response, error) {
	path := c.args.str("path")
	if c.args.err != nil {
		return nil, c.args.err
	}
	content, err := c.drv.ReadFile(ctx, c.sess, path)
	if err != nil {
		return nil, err
	}
	return textResponse("%s", content), nil
}

func handleWriteFile(ctx context.Context, c *call) (*Response, error) {
	path, content := c.args.str("path"), c.args.str("content")
	if c.args.err != nil {
		return nil, c.args.err
	}
	written, err := c.drv.WriteFile(ctx, c.sess, path, content)
	if err != nil {
		return nil, err
	}
	return textResponse("Wrote %d bytes to %s", len(content), written), nil
}

func handleNewTab(ctx context.Context, c *call) (*Response, error) {
	url := c.args.str("url")
	if c.args.err != nil {
		return nil, c.args.err
	}
	info, err := c.drv.NewTab(ctx, c.sess, url)
	if err != nil {
		return nil, err
	}
	return jsonResponse(info)
}

func handleListTabs(ctx context.Context, c *call) (*Response, error) {
	tabs, err := c.drv.Tabs(ctx, c.sess)
	if err != nil {
		return nil, err
	}
	return jsonResponse(tabs)
}

func handleSelectTab(ctx context.Context, c *call) (*Response, error) {
	id := c.args.str("tabId")
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.SelectTab(ctx, c.sess, id); err != nil {
		return nil, err
	}
	return textResponse("Tab %s is active", id), nil
}

func handleCloseTab(ctx context.Context, c *call) (*Response, error) {
	id := c.args.str("tabId")
	if c.args.err != nil {
		return nil, c.args.err
	}
	active, err := c.drv.CloseTab(ctx, c.sess, id)
	if err != nil {
		return nil, err
	}
	if active == "" {
		return textResponse("Tab closed; the session has no open tabs left"), nil
	}
	return textResponse("Tab closed; %s is active", active), nil
}

func handleSetDialogPolicy(ctx context.Context, c *call) (*Response, error) {
	policy := session.DialogPolicy{Accept: c.args.boolean("accept"), PromptText: c.args.str("promptText")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.SetDialogPolicy(ctx, c.sess, policy); err != nil {
		return nil, err
	}
	if policy.Accept {
		return textResponse("Dialogs will be accepted"), nil
	}
	return textResponse("Dialogs will be dismissed"), nil
}

func handleSetViewport(ctx context.Context, c *call) (*Response, error) {
	req := driver.ViewportRequest{Surface: c.surface(), Width: c.args.integer("width"), Height: c.args.integer("height")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	if err := c.drv.SetViewport(ctx, c.sess, req); err != nil {
		return nil, err
	}
	return textResponse("Viewport set to %dx%d", req.Width, req.Height), nil
}

type networkEntry struct {
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resourceType,omitempty"`
	Phase        string    `json:"phase"`
	Status       int       `json:"status,omitempty"`
	Time         time.Time `json:"time"`
}

func handleNetwork(ctx context.Context, c *call) (*Response, error) {
	q := driver.NetworkQuery{Filter: c.args.str("filter"), Limit: c.args.integer("limit")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	events, err := c.drv.NetworkRequests(ctx, c.sess, q)
	if err != nil {
		return nil, err
	}
	out := make([]networkEntry, 0, len(events))
	for _, ev := range events {
		phase := "request"
		if ev.Response {
			phase = "response"
		}
		out = append(out, networkEntry{
			Method: ev.Method, URL: ev.URL, ResourceType: ev.ResourceType,
			Phase: phase, Status: ev.Status, Time: ev.Time,
		})
	}
	return jsonResponse(out)
}

type consoleEntry struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	Time  time.Time `json:"time"`
}

func handleConsole(ctx context.Context, c *call) (*Response, error) {
	q := driver.ConsoleQuery{Level: c.args.str("level"), Limit: c.args.integer("limit")}
	if c.args.err != nil {
		return nil, c.args.err
	}
	msgs, err := c.drv.ConsoleMessages(ctx, c.sess, q)
	if err != nil {
		return nil, err
	}
	out := make([]consoleEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, consoleEntry{Level: m.Level, Text: m.Text, URL: m.URL, Time: m.Time})
	}
	return jsonResponse(out)
}

func handleExportScript(ctx context.Context, c *call) (*Response, error) {
	name := c.args.str("testName")
	if c.args.err != nil {
		return nil, c.args.err
	}
	script, err := c.drv.ExportScript(ctx, c.sess, name)
	if err != nil {
		return nil, err
	}
	return textResponse("%s", script), nil
}
