package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)
	return g
}

func TestNewGuard(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{name: "existing directory", dir: t.TempDir()},
		{name: "current directory", dir: "."},
		{name: "empty", dir: "", wantErr: true},
		{name: "missing directory", dir: filepath.Join(t.TempDir(), "nope"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(tt.dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(g.Root()))
		})
	}
}

func TestGuard_Resolve(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative file", path: "data/config.json", want: filepath.Join(g.Root(), "data", "config.json")},
		{name: "dot segments stay inside", path: "a/../b.txt", want: filepath.Join(g.Root(), "b.txt")},
		{name: "root itself", path: ".", want: g.Root()},
		{name: "traversal", path: "../outside.txt", wantErr: true},
		{name: "absolute outside", path: "/etc/passwd", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_SymlinkEscape(t *testing.T) {
	g := newTestGuard(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o600))

	link := filepath.Join(g.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := g.Resolve("escape/secret.txt")
	assert.Error(t, err)
}

func TestGuard_AllowDir(t *testing.T) {
	g := newTestGuard(t)
	extra := t.TempDir()

	_, err := g.Resolve(filepath.Join(extra, "shot.png"))
	assert.Error(t, err)

	require.NoError(t, g.AllowDir(extra))
	require.NoError(t, g.AllowDir(extra))
	assert.Len(t, g.allowedDirs, 1)

	_, err = g.Resolve(filepath.Join(extra, "shot.png"))
	assert.NoError(t, err)

	assert.Error(t, g.AllowDir(""))
}

func TestGuard_ReadWriteFile(t *testing.T) {
	g := newTestGuard(t)

	written, err := g.WriteFile("nested/dir/note.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.Root(), "nested", "dir", "note.txt"), written)

	data, err := g.ReadFile("nested/dir/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = g.WriteFile("../escape.txt", []byte("x"))
	assert.Error(t, err)

	_, err = g.ReadFile("nested")
	assert.ErrorContains(t, err, "is a directory")

	_, err = g.ReadFile("missing.txt")
	assert.Error(t, err)
}

func TestGuard_MaxFileSize(t *testing.T) {
	g := newTestGuard(t)
	g.SetMaxFileSize(4)

	_, err := g.WriteFile("big.txt", []byte("too large"))
	require.NoError(t, err)

	_, err = g.ReadFile("big.txt")
	assert.ErrorContains(t, err, "limit")

	g.SetMaxFileSize(0)
	_, err = g.ReadFile("big.txt")
	assert.NoError(t, err)
}
