package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/engine/enginetest"
	"github.com/entrhq/pilot/pkg/session"
)

var callIDPattern = regexp.MustCompile(`const id = "([^"]+)";`)

// fakeApp writes a stand-in executable and returns its path.
func fakeApp(t *testing.T) string {
	t.Helper()
	exe := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0700))
	return exe
}

func launchElectron(t *testing.T, setup func(*enginetest.Context)) (*Electron, *enginetest.Launcher, *session.Session) {
	t.Helper()
	l := &enginetest.Launcher{Setup: setup}
	cfg := testConfig(t)
	cfg.Electron.IPCTimeout = 50 * time.Millisecond
	e := NewElectron(l, cfg, nil)

	s, err := e.Launch(context.Background(), LaunchOptions{ExecutablePath: fakeApp(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background(), s) })
	return e, l, s
}

// ipcEcho answers an IPC script the way a renderer would.
func ipcEcho(reply func(id string) (any, error)) func(string) (any, error) {
	return func(script string) (any, error) {
		m := callIDPattern.FindStringSubmatch(script)
		if m == nil {
			return nil, errors.New("not an IPC call")
		}
		return reply(m[1])
	}
}

func TestElectronLaunch(t *testing.T) {
	_, l, s := launchElectron(t, nil)

	require.Equal(t, session.KindElectron, s.Kind)
	ext := s.Electron()
	require.NotNil(t, ext)
	dir, err := filepath.EvalSymlinks(filepath.Dir(ext.ExecutablePath))
	require.NoError(t, err)
	assert.Equal(t, dir, ext.WorkingDir)
	assert.Equal(t, ext.ExecutablePath, l.Options[0].ExecutablePath)
	assert.Equal(t, session.MainSurfaceID, s.ActiveID())
}

func TestElectronLaunchRequiresExecutable(t *testing.T) {
	l := &enginetest.Launcher{}
	e := NewElectron(l, testConfig(t), nil)

	_, err := e.Launch(context.Background(), LaunchOptions{})
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, err.Error(), "executablePath is required")

	_, err = e.Launch(context.Background(), LaunchOptions{ExecutablePath: filepath.Join(t.TempDir(), "missing")})
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, err.Error(), "executable not found")

	_, err = e.Launch(context.Background(), LaunchOptions{ExecutablePath: t.TempDir()})
	require.ErrorAs(t, err, &launchErr)

	assert.Empty(t, l.Launched)
}

func TestElectronLaunchTimeout(t *testing.T) {
	l := &enginetest.Launcher{Delay: time.Second}
	e := NewElectron(l, testConfig(t), nil)

	_, err := e.Launch(context.Background(), LaunchOptions{ExecutablePath: fakeApp(t), Timeout: 20 * time.Millisecond})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, OpLaunch, timeout.Op)
}

func TestElectronWindows(t *testing.T) {
	e, l, s := launchElectron(t, func(c *enginetest.Context) {
		c.Page(0).Titles["about:blank"] = "Editor"
	})
	l.Last().AddPage("devtools://devtools/bundled/inspector.html")
	l.Last().AddPage("file:///app/settings.html")

	windows, err := e.Windows(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, "main", windows[0].Type)
	assert.Equal(t, "Editor", windows[0].Title)
	assert.True(t, windows[0].Active)
	assert.Equal(t, "window-1", windows[1].ID)
	assert.Equal(t, "devtools", windows[1].Type)
	assert.Equal(t, "other", windows[2].Type)
}

func TestElectronWindowClosedByApp(t *testing.T) {
	e, l, s := launchElectron(t, nil)
	extra := l.Last().AddPage("file:///app/about.html")

	windows, err := e.Windows(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	require.NoError(t, extra.Close(context.Background()))
	windows, err = e.Windows(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, session.MainSurfaceID, windows[0].ID)
}

func TestElectronInvokeIPC(t *testing.T) {
	e, l, s := launchElectron(t, nil)
	l.Last().Page(0).EvalFunc = ipcEcho(func(id string) (any, error) {
		return map[string]any{"id": id, "ok": true, "value": map[string]any{"version": "1.2.3"}}, nil
	})

	v, err := e.InvokeIPC(context.Background(), s, IPCRequest{Channel: "app:version", Args: []any{"full"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"version": "1.2.3"}, v)

	calls := l.Last().Page(0).Calls()
	script := calls[len(calls)-1].Args[0]
	assert.Contains(t, script, `ipc.invoke("app:version", ...["full"])`)
}

func TestElectronInvokeIPCFailures(t *testing.T) {
	e, l, s := launchElectron(t, nil)
	page := l.Last().Page(0)
	ctx := context.Background()

	_, err := e.InvokeIPC(ctx, s, IPCRequest{})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)

	page.EvalFunc = ipcEcho(func(id string) (any, error) {
		return map[string]any{"id": id, "ok": false, "error": "No handler registered"}, nil
	})
	_, err = e.InvokeIPC(ctx, s, IPCRequest{Channel: "missing"})
	require.ErrorAs(t, err, &driverErr)
	assert.Contains(t, err.Error(), "No handler registered")

	page.EvalFunc = ipcEcho(func(string) (any, error) {
		return map[string]any{"id": "someone-else", "ok": true}, nil
	})
	_, err = e.InvokeIPC(ctx, s, IPCRequest{Channel: "ping"})
	require.ErrorAs(t, err, &driverErr)
	assert.Contains(t, err.Error(), "does not match")

	page.EvalFunc = func(string) (any, error) { return "garbage", nil }
	_, err = e.InvokeIPC(ctx, s, IPCRequest{Channel: "ping"})
	require.ErrorAs(t, err, &driverErr)
	assert.Contains(t, err.Error(), "malformed")
}

func TestElectronInvokeIPCTimeout(t *testing.T) {
	e, l, s := launchElectron(t, nil)
	release := make(chan struct{})
	l.Last().Page(0).EvalFunc = func(string) (any, error) {
		<-release
		return nil, nil
	}
	defer close(release)

	_, err := e.InvokeIPC(context.Background(), s, IPCRequest{Channel: "hang"})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, OpInvokeIPC, timeout.Op)
	assert.Equal(t, 50*time.Millisecond, timeout.Timeout)
}

func TestElectronFiles(t *testing.T) {
	e, _, s := launchElectron(t, nil)
	ctx := context.Background()

	path, err := e.WriteFile(ctx, s, "data/notes.txt", "hello")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Electron().WorkingDir, "data", "notes.txt"), path)

	content, err := e.ReadFile(ctx, s, "data/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	_, err = e.ReadFile(ctx, s, "../../etc/passwd")
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, OpReadFile, driverErr.Op)

	_, err = e.WriteFile(ctx, s, "/tmp/outside-pilot.txt", "x")
	require.ErrorAs(t, err, &driverErr)
}

func TestElectronSharedOperations(t *testing.T) {
	e, l, s := launchElectron(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Click(ctx, s, Target{Selector: "#save"}))
	res, err := e.Screenshot(ctx, s, ScreenshotRequest{})
	require.NoError(t, err)
	assert.FileExists(t, res.Path)

	calls := l.Last().Page(0).Calls()
	assert.Equal(t, "click", calls[0].Op)
}
