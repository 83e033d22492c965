// Package workspace confines file access to a root directory. Electron
// sessions use it so readFile and writeFile cannot escape the application's
// working directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultMaxFileSize caps ReadFile results.
const DefaultMaxFileSize = 10 << 20

// Guard enforces directory boundary restrictions on file paths.
type Guard struct {
	root string

	mu          sync.RWMutex
	allowedDirs []string
	maxFileSize int64
}

// NewGuard creates a guard rooted at dir. The directory must exist; its path
// is made absolute and symlinks are evaluated.
func NewGuard(dir string) (*Guard, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	return &Guard{root: evalPath, maxFileSize: DefaultMaxFileSize}, nil
}

// Root returns the absolute workspace directory.
func (g *Guard) Root() string {
	return g.root
}

// SetMaxFileSize changes the ReadFile cap. Values <= 0 restore the default.
func (g *Guard) SetMaxFileSize(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxFileSize
	}
	g.maxFileSize = n
}

// AllowDir permits access to an extra directory outside the root.
func (g *Guard) AllowDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("allowed directory cannot be empty")
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve allowed directory: %w", err)
	}
	evalPath := resolveSymlinks(absPath)

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.allowedDirs {
		if existing == evalPath {
			return nil
		}
	}
	g.allowedDirs = append(g.allowedDirs, evalPath)
	return nil
}

// Resolve turns a relative or absolute path into an absolute path and checks
// that it stays inside the root or an allowed directory.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(g.root, cleanPath)
	}

	resolved := resolveSymlinks(absPath)
	if !g.Contains(resolved) {
		return "", fmt.Errorf("path '%s' is outside workspace boundaries", path)
	}
	return resolved, nil
}

// Contains reports whether an absolute, symlink-free path lies within the
// root or an allowed directory.
func (g *Guard) Contains(absPath string) bool {
	if within(absPath, g.root) {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dir := range g.allowedDirs {
		if within(absPath, dir) {
			return true
		}
	}
	return false
}

func within(path, dir string) bool {
	sep := string(filepath.Separator)
	return path == dir || strings.HasPrefix(path+sep, dir+sep)
}

// ReadFile reads a file inside the workspace.
func (g *Guard) ReadFile(path string) ([]byte, error) {
	resolved, err := g.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	g.mu.RLock()
	limit := g.maxFileSize
	g.mu.RUnlock()
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), limit)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes a file inside the workspace, creating parent directories.
func (g *Guard) WriteFile(path string, data []byte) (string, error) {
	resolved, err := g.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return resolved, nil
}

// resolveSymlinks evaluates symlinks, walking up to the nearest existing
// ancestor for paths that do not exist yet.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(current)
		if dir == current || dir == "." {
			return filepath.Clean(path)
		}
		components = append(components, filepath.Base(current))
		current = dir
	}
}
