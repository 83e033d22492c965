package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/security/workspace"
	"github.com/entrhq/pilot/pkg/session"
)

const (
	windowPrefix      = "window"
	defaultIPCTimeout = 5 * time.Second
)

// ipcScript calls ipcRenderer.invoke in the renderer and answers with an
// envelope carrying the call id, so a reply can be matched to its request.
const ipcScript = `(async () => {
  const id = %s;
  const ipc = (window.electron && window.electron.ipcRenderer) || window.ipcRenderer ||
    (typeof require === 'function' ? require('electron').ipcRenderer : undefined);
  if (!ipc || typeof ipc.invoke !== 'function') {
    return { id, ok: false, error: 'ipcRenderer is not exposed to the renderer' };
  }
  try {
    const value = await ipc.invoke(%s, ...%s);
    return { id, ok: true, value };
  } catch (e) {
    return { id, ok: false, error: String((e && e.message) || e) };
  }
})()`

// Electron drives Electron applications over the DevTools protocol. Each
// session owns one application process; windows are its pages.
type Electron struct {
	surfaceOps
	unsupported

	launcher engine.Launcher
}

var _ Driver = (*Electron)(nil)

// NewElectron creates the Electron driver.
func NewElectron(launcher engine.Launcher, cfg *config.Config, log *logging.Logger) *Electron {
	return &Electron{
		surfaceOps:  newSurfaceOps(cfg, log),
		unsupported: unsupported{kind: session.KindElectron},
		launcher:    launcher,
	}
}

var electronCapabilities = capabilities(append([]Op{
	OpInvokeIPC, OpGetWindows, OpReadFile, OpWriteFile,
}, surfaceCapabilities...)...)

func (e *Electron) Kind() session.Kind { return session.KindElectron }

func (e *Electron) Capabilities() Capabilities { return electronCapabilities }

func (e *Electron) Launch(ctx context.Context, opts LaunchOptions) (*session.Session, error) {
	if opts.ExecutablePath == "" {
		return nil, &LaunchError{Kind: session.KindElectron, Reason: "executablePath is required"}
	}
	exe, err := filepath.Abs(opts.ExecutablePath)
	if err != nil {
		return nil, &LaunchError{Kind: session.KindElectron, Reason: "invalid executablePath", Err: err}
	}
	info, err := os.Stat(exe)
	if err != nil {
		return nil, &LaunchError{Kind: session.KindElectron, Reason: "executable not found", Err: err}
	}
	if info.IsDir() {
		return nil, &LaunchError{Kind: session.KindElectron, Reason: fmt.Sprintf("%s is a directory", exe)}
	}

	workDir := opts.WorkingDir
	if workDir == "" {
		workDir = filepath.Dir(exe)
	}
	guard, err := workspace.NewGuard(workDir)
	if err != nil {
		return nil, &LaunchError{Kind: session.KindElectron, Reason: "invalid working directory", Err: err}
	}
	guard.SetMaxFileSize(e.cfg.Files.MaxFileSize)
	for _, dir := range e.cfg.Files.AllowedDirs {
		if err := guard.AllowDir(dir); err != nil {
			e.log.Warnf("Ignoring allowed directory %q: %v", dir, err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Electron.LaunchTimeout
	}

	ectx, err := startEngine(ctx, session.KindElectron, e.launcher, engine.LaunchOptions{
		ExecutablePath: exe,
		Args:           opts.Args,
		Env:            opts.Env,
		WorkingDir:     guard.Root(),
		Headless:       opts.Headless != nil && *opts.Headless,
		Viewport:       opts.Viewport,
	}, timeout, e.log)
	if err != nil {
		return nil, err
	}

	main, pages, err := firstPage(ctx, ectx)
	if err != nil {
		discard(ectx, e.log)
		return nil, &LaunchError{Kind: session.KindElectron, Reason: "application opened no window", Err: err}
	}

	s := session.New(newSessionID(), session.KindElectron, ectx, main, &session.ElectronExt{
		ExecutablePath: exe,
		WorkingDir:     guard.Root(),
		Files:          guard,
	})
	s.AutoSnapshot = opts.IncludeSnapshots
	s.Reconcile(pages, windowPrefix)
	for _, sf := range s.Surfaces() {
		e.attach(s, sf)
		e.refreshTitle(ctx, sf)
	}

	e.log.Infof("Launched Electron session %s (%s)", s.ID, exe)
	return s, nil
}

func (e *Electron) Close(ctx context.Context, s *session.Session) error {
	err := e.closeSession(ctx, s)
	e.log.Infof("Closed Electron session %s", s.ID)
	return err
}

// Windows reconciles the known windows with the application's live pages.
func (e *Electron) Windows(ctx context.Context, s *session.Session) ([]SurfaceInfo, error) {
	s.Touch()
	pages, err := s.Engine.Pages(ctx)
	if err != nil {
		return nil, wrapErr(OpGetWindows, err)
	}
	added, _ := s.Reconcile(pages, windowPrefix)
	for _, sf := range added {
		e.attach(s, sf)
	}
	for _, sf := range s.Surfaces() {
		e.refreshTitle(ctx, sf)
	}
	return surfaceInfos(s, classifyWindow), nil
}

func classifyWindow(sf *session.Surface) string {
	switch {
	case strings.HasPrefix(sf.URL(), "devtools://"):
		return "devtools"
	case sf.ID == session.MainSurfaceID:
		return "main"
	}
	return "other"
}

type ipcReply struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Value any    `json:"value"`
	Error string `json:"error"`
}

// InvokeIPC performs one ipcRenderer.invoke round trip, bounded by the
// configured IPC timeout regardless of the caller's context.
func (e *Electron) InvokeIPC(ctx context.Context, s *session.Session, req IPCRequest) (any, error) {
	if req.Channel == "" {
		return nil, &DriverError{Op: OpInvokeIPC, Err: errors.New("channel is required")}
	}
	sf, err := e.surface(OpInvokeIPC, s, req.Surface)
	if err != nil {
		return nil, err
	}

	args := req.Args
	if args == nil {
		args = []any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, &DriverError{Op: OpInvokeIPC, Err: fmt.Errorf("arguments are not serializable: %w", err)}
	}
	channelJSON, _ := json.Marshal(req.Channel)
	callID := uuid.NewString()
	idJSON, _ := json.Marshal(callID)
	js := fmt.Sprintf(ipcScript, idJSON, channelJSON, argsJSON)

	timeout := e.cfg.Electron.IPCTimeout
	if timeout <= 0 {
		timeout = defaultIPCTimeout
	}
	ipcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := sf.Page.Evaluate(ipcCtx, js)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ipcCtx.Done():
		return nil, &TimeoutError{Op: OpInvokeIPC, Timeout: timeout, Err: ipcCtx.Err()}
	}
	if r.err != nil {
		if errors.Is(r.err, engine.ErrTimeout) {
			return nil, &TimeoutError{Op: OpInvokeIPC, Timeout: timeout, Err: r.err}
		}
		return nil, &DriverError{Op: OpInvokeIPC, Err: r.err}
	}

	reply, err := decodeIPCReply(r.v)
	if err != nil {
		return nil, &DriverError{Op: OpInvokeIPC, Err: err}
	}
	if reply.ID != callID {
		return nil, &DriverError{Op: OpInvokeIPC, Err: fmt.Errorf("reply for call %q does not match call %q", reply.ID, callID)}
	}
	if !reply.OK {
		return nil, &DriverError{Op: OpInvokeIPC, Err: fmt.Errorf("channel %q: %s", req.Channel, reply.Error)}
	}
	return reply.Value, nil
}

// decodeIPCReply normalizes whatever the engine returned into an ipcReply.
func decodeIPCReply(v any) (*ipcReply, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unreadable IPC reply: %w", err)
	}
	var reply ipcReply
	if err := json.Unmarshal(raw, &reply); err != nil || reply.ID == "" {
		return nil, fmt.Errorf("malformed IPC reply: %s", raw)
	}
	return &reply, nil
}

func (e *Electron) ReadFile(ctx context.Context, s *session.Session, path string) (string, error) {
	s.Touch()
	data, err := s.Electron().Files.ReadFile(path)
	if err != nil {
		return "", &DriverError{Op: OpReadFile, Err: err}
	}
	return string(data), nil
}

func (e *Electron) WriteFile(ctx context.Context, s *session.Session, path, content string) (string, error) {
	s.Touch()
	written, err := s.Electron().Files.WriteFile(path, []byte(content))
	if err != nil {
		return "", &DriverError{Op: OpWriteFile, Err: err}
	}
	return written, nil
}
