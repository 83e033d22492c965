// Package driver implements the automation backends behind the dispatch
// server: one driver per target kind (web browser, Electron application).
//
// Every driver satisfies the same Driver interface. Launch and Close are
// mandatory; every other operation is optional and declared in the driver's
// capability table, which the dispatch layer consults before delegating.
// Operations a driver lacks are still callable and fail with
// UnsupportedOperationError.
//
// Drivers hold no session registry of their own. They create sessions on
// Launch and act on the sessions they are handed; the caller owns lookup
// and removal.
package driver

import (
	"context"
	"time"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/session"
)

// Op names a protocol operation.
type Op string

const (
	OpLaunch          Op = "launch"
	OpClose           Op = "close"
	OpListSessions    Op = "listSessions"
	OpNavigate        Op = "navigate"
	OpClick           Op = "click"
	OpType            Op = "type"
	OpScreenshot      Op = "screenshot"
	OpEvaluate        Op = "evaluate"
	OpWaitForSelector Op = "waitForSelector"
	OpSnapshot        Op = "snapshot"
	OpHover           Op = "hover"
	OpDrag            Op = "drag"
	OpKey             Op = "key"
	OpSelect          Op = "select"
	OpUpload          Op = "upload"
	OpBack            Op = "back"
	OpForward         Op = "forward"
	OpRefresh         Op = "refresh"
	OpContent         Op = "content"
	OpTextContent     Op = "textContent"

	// Electron extras
	OpInvokeIPC  Op = "invokeIPC"
	OpGetWindows Op = "getWindows"
	OpReadFile   Op = "readFile"
	OpWriteFile  Op = "writeFile"

	// Web extras
	OpNewTab             Op = "newTab"
	OpListTabs           Op = "listTabs"
	OpSelectTab          Op = "selectTab"
	OpCloseTab           Op = "closeTab"
	OpSetDialogPolicy    Op = "setDialogPolicy"
	OpSetViewport        Op = "setViewport"
	OpGetNetworkRequests Op = "getNetworkRequests"
	OpGetConsoleMessages Op = "getConsoleMessages"
	OpExportScript       Op = "exportScript"
)

// Capabilities is the static set of optional operations a driver implements.
type Capabilities map[Op]bool

// Has reports whether op is declared.
func (c Capabilities) Has(op Op) bool {
	return c[op]
}

func capabilities(ops ...Op) Capabilities {
	c := make(Capabilities, len(ops))
	for _, op := range ops {
		c[op] = true
	}
	return c
}

// surfaceCapabilities are the operations shared by every driver kind.
var surfaceCapabilities = []Op{
	OpClick, OpType, OpScreenshot, OpEvaluate, OpWaitForSelector, OpSnapshot,
	OpHover, OpDrag, OpKey, OpSelect, OpUpload, OpBack, OpForward, OpRefresh,
	OpContent, OpTextContent,
}

// Mutating reports whether op changes page state, which makes it eligible
// for an automatic follow-up snapshot.
func Mutating(op Op) bool {
	switch op {
	case OpClick, OpType, OpHover, OpDrag, OpKey, OpSelect, OpUpload,
		OpNavigate, OpBack, OpForward, OpRefresh:
		return true
	}
	return false
}

// LaunchOptions configures a new session. Zero values fall back to the
// driver's configured defaults.
type LaunchOptions struct {
	// Browser selects chromium, firefox or webkit (web only).
	Browser string
	// URL is opened in the main surface after launch (web only).
	URL string

	// ExecutablePath is the Electron binary (required for Electron).
	ExecutablePath string
	Args           []string
	Env            map[string]string
	WorkingDir     string

	Headless *bool
	Viewport *engine.Viewport
	Timeout  time.Duration

	// IncludeSnapshots enables automatic snapshots after mutating operations.
	IncludeSnapshots bool
}

// Target addresses an element on a surface. An empty Surface means the
// active one; Selector may be a CSS/engine selector or a snapshot ref.
type Target struct {
	Surface  string
	Selector string
}

type TypeRequest struct {
	Target
	Text   string
	Submit bool
}

type DragRequest struct {
	Surface string
	Source  string
	Dest    string
}

type KeyRequest struct {
	Target
	Key string
}

type SelectRequest struct {
	Target
	Values []string
}

type UploadRequest struct {
	Target
	Files []string
}

type WaitRequest struct {
	Target
	// State is attached, detached, visible or hidden. Default visible.
	State   string
	Timeout time.Duration
}

type ScreenshotRequest struct {
	Surface  string
	Path     string
	FullPage bool
	// Compress selects JPEG over PNG. Nil uses the configured default.
	Compress *bool
	Quality  int
}

// ScreenshotResult is a written image.
type ScreenshotResult struct {
	Path     string
	Data     []byte
	MIMEType string
}

type ContentRequest struct {
	Surface   string
	Clean     bool
	MaxLength int
}

type IPCRequest struct {
	Surface string
	Channel string
	Args    []any
}

type ViewportRequest struct {
	Surface string
	Width   int
	Height  int
}

type NetworkQuery struct {
	// Filter is a glob over request URLs; text without wildcards matches as a substring.
	Filter string
	Limit  int
}

type ConsoleQuery struct {
	Level string
	Limit int
}

// SurfaceInfo describes a tab or window.
type SurfaceInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
	// Type is main, devtools or other (Electron only).
	Type string `json:"type,omitempty"`
}

// Driver is the operation surface of one target kind.
type Driver interface {
	Kind() session.Kind
	Capabilities() Capabilities

	Launch(ctx context.Context, opts LaunchOptions) (*session.Session, error)
	// Close tears down every surface and the engine context. Cleanup is best
	// effort; the returned error joins every failure encountered.
	Close(ctx context.Context, s *session.Session) error

	Navigate(ctx context.Context, s *session.Session, surface, url string) error
	Click(ctx context.Context, s *session.Session, t Target) error
	Type(ctx context.Context, s *session.Session, req TypeRequest) error
	Hover(ctx context.Context, s *session.Session, t Target) error
	Drag(ctx context.Context, s *session.Session, req DragRequest) error
	Key(ctx context.Context, s *session.Session, req KeyRequest) error
	Select(ctx context.Context, s *session.Session, req SelectRequest) error
	Upload(ctx context.Context, s *session.Session, req UploadRequest) error
	Back(ctx context.Context, s *session.Session, surface string) error
	Forward(ctx context.Context, s *session.Session, surface string) error
	Refresh(ctx context.Context, s *session.Session, surface string) error

	Screenshot(ctx context.Context, s *session.Session, req ScreenshotRequest) (*ScreenshotResult, error)
	Evaluate(ctx context.Context, s *session.Session, surface, script string) (any, error)
	WaitForSelector(ctx context.Context, s *session.Session, req WaitRequest) error
	Snapshot(ctx context.Context, s *session.Session, surface string) (*Snapshot, error)
	Content(ctx context.Context, s *session.Session, req ContentRequest) (string, error)
	TextContent(ctx context.Context, s *session.Session, t Target) (string, error)

	InvokeIPC(ctx context.Context, s *session.Session, req IPCRequest) (any, error)
	Windows(ctx context.Context, s *session.Session) ([]SurfaceInfo, error)
	ReadFile(ctx context.Context, s *session.Session, path string) (string, error)
	WriteFile(ctx context.Context, s *session.Session, path, content string) (string, error)

	NewTab(ctx context.Context, s *session.Session, url string) (*SurfaceInfo, error)
	Tabs(ctx context.Context, s *session.Session) ([]SurfaceInfo, error)
	SelectTab(ctx context.Context, s *session.Session, id string) error
	CloseTab(ctx context.Context, s *session.Session, id string) (string, error)
	SetDialogPolicy(ctx context.Context, s *session.Session, policy session.DialogPolicy) error
	SetViewport(ctx context.Context, s *session.Session, req ViewportRequest) error
	NetworkRequests(ctx context.Context, s *session.Session, q NetworkQuery) ([]engine.NetworkEvent, error)
	ConsoleMessages(ctx context.Context, s *session.Session, q ConsoleQuery) ([]engine.ConsoleMessage, error)
	ExportScript(ctx context.Context, s *session.Session, testName string) (string, error)
}

// unsupported answers every kind-specific extra with UnsupportedOperationError.
// Drivers embed it and shadow the extras they implement.
type unsupported struct {
	kind session.Kind
}

func (u unsupported) fail(op Op) error {
	return &UnsupportedOperationError{Op: op, Kind: u.kind}
}

func (u unsupported) Navigate(context.Context, *session.Session, string, string) error {
	return u.fail(OpNavigate)
}

func (u unsupported) InvokeIPC(context.Context, *session.Session, IPCRequest) (any, error) {
	return nil, u.fail(OpInvokeIPC)
}

func (u unsupported) Windows(context.Context, *session.Session) ([]SurfaceInfo, error) {
	return nil, u.fail(OpGetWindows)
}

func (u unsupported) ReadFile(context.Context, *session.Session, string) (string, error) {
	return "", u.fail(OpReadFile)
}

func (u unsupported) WriteFile(context.Context, *session.Session, string, string) (string, error) {
	return "", u.fail(OpWriteFile)
}

func (u unsupported) NewTab(context.Context, *session.Session, string) (*SurfaceInfo, error) {
	return nil, u.fail(OpNewTab)
}

func (u unsupported) Tabs(context.Context, *session.Session) ([]SurfaceInfo, error) {
	return nil, u.fail(OpListTabs)
}

func (u unsupported) SelectTab(context.Context, *session.Session, string) error {
	return u.fail(OpSelectTab)
}

func (u unsupported) CloseTab(context.Context, *session.Session, string) (string, error) {
	return "", u.fail(OpCloseTab)
}

func (u unsupported) SetDialogPolicy(context.Context, *session.Session, session.DialogPolicy) error {
	return u.fail(OpSetDialogPolicy)
}

func (u unsupported) SetViewport(context.Context, *session.Session, ViewportRequest) error {
	return u.fail(OpSetViewport)
}

func (u unsupported) NetworkRequests(context.Context, *session.Session, NetworkQuery) ([]engine.NetworkEvent, error) {
	return nil, u.fail(OpGetNetworkRequests)
}

func (u unsupported) ConsoleMessages(context.Context, *session.Session, ConsoleQuery) ([]engine.ConsoleMessage, error) {
	return nil, u.fail(OpGetConsoleMessages)
}

func (u unsupported) ExportScript(context.Context, *session.Session, string) (string, error) {
	return "", u.fail(OpExportScript)
}
