// Package config loads the pilot server configuration.
//
// Configuration comes from three layers, later layers winning:
//  1. DefaultConfig
//  2. a YAML file (default ~/.pilot/config.yaml, optional)
//  3. PILOT_* environment variables, including ones from a .env file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Web        WebConfig        `yaml:"web" json:"web"`
	Electron   ElectronConfig   `yaml:"electron" json:"electron"`
	Screenshot ScreenshotConfig `yaml:"screenshot" json:"screenshot"`
	Buffers    BufferConfig     `yaml:"buffers" json:"buffers"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Files      FilesConfig      `yaml:"files" json:"files"`
}

// ServerConfig configures the dispatch server
type ServerConfig struct {
	Name          string `yaml:"name" json:"name"`
	DefaultTarget string `yaml:"default_target" json:"default_target"` // web or electron
	AutoSnapshot  bool   `yaml:"auto_snapshot" json:"auto_snapshot"`   // default for the launch includeSnapshots option
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`     // empty disables the metrics listener
}

// WebConfig configures browser sessions
type WebConfig struct {
	Browser        string        `yaml:"browser" json:"browser"` // chromium, firefox or webkit
	Headless       bool          `yaml:"headless" json:"headless"`
	Install        bool          `yaml:"install" json:"install"` // install playwright browsers on first launch
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	LaunchTimeout  time.Duration `yaml:"launch_timeout" json:"launch_timeout"`
}

// ElectronConfig configures Electron sessions
type ElectronConfig struct {
	LaunchTimeout time.Duration `yaml:"launch_timeout" json:"launch_timeout"`
	IPCTimeout    time.Duration `yaml:"ipc_timeout" json:"ipc_timeout"`
}

// ScreenshotConfig configures screenshot defaults
type ScreenshotConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Compress bool   `yaml:"compress" json:"compress"`
	Quality  int    `yaml:"quality" json:"quality"` // 1-100, jpeg only
}

// BufferConfig bounds the per-session capture buffers
type BufferConfig struct {
	Console int `yaml:"console" json:"console"`
	Network int `yaml:"network" json:"network"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// FilesConfig limits the Electron file helpers
type FilesConfig struct {
	MaxFileSize int64    `yaml:"max_file_size" json:"max_file_size"`
	AllowedDirs []string `yaml:"allowed_dirs" json:"allowed_dirs"`
}

// DefaultConfig returns a configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:          "pilot",
			DefaultTarget: "web",
		},
		Web: WebConfig{
			Browser:        "chromium",
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			LaunchTimeout:  30 * time.Second,
		},
		Electron: ElectronConfig{
			LaunchTimeout: 30 * time.Second,
			IPCTimeout:    5 * time.Second,
		},
		Screenshot: ScreenshotConfig{
			Dir:      filepath.Join(os.TempDir(), "pilot-screenshots"),
			Compress: true,
			Quality:  50,
		},
		Buffers: BufferConfig{
			Console: 500,
			Network: 500,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Files: FilesConfig{
			MaxFileSize: 10 * 1024 * 1024,
		},
	}
}

// DefaultPath returns ~/.pilot/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pilot", "config.yaml"), nil
}

// Load reads the configuration from path, layering the file and the environment
// over the defaults. An empty path means DefaultPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, unmarshalErr)
		}
	case errors.Is(err, fs.ErrNotExist):
		// no file, defaults stand
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory without overriding
// variables that are already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from PILOT_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("PILOT_SERVER_NAME", &c.Server.Name)
	str("PILOT_TARGET", &c.Server.DefaultTarget)
	str("PILOT_BROWSER", &c.Web.Browser)
	str("PILOT_SCREENSHOT_DIR", &c.Screenshot.Dir)
	str("PILOT_LOG_LEVEL", &c.Logging.Level)
	str("PILOT_LOG_DIR", &c.Logging.Dir)
	str("PILOT_METRICS_ADDR", &c.Server.MetricsAddr)

	if err := boolean("PILOT_HEADLESS", &c.Web.Headless); err != nil {
		return err
	}
	if err := boolean("PILOT_AUTO_SNAPSHOT", &c.Server.AutoSnapshot); err != nil {
		return err
	}
	return boolean("PILOT_INSTALL_BROWSERS", &c.Web.Install)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name is required")
	}

	if c.Server.DefaultTarget != "web" && c.Server.DefaultTarget != "electron" {
		return fmt.Errorf("invalid default_target: %s (must be 'web' or 'electron')", c.Server.DefaultTarget)
	}

	validBrowsers := map[string]bool{
		"chromium": true,
		"firefox":  true,
		"webkit":   true,
	}
	if !validBrowsers[c.Web.Browser] {
		return fmt.Errorf("invalid browser: %s (must be 'chromium', 'firefox', or 'webkit')", c.Web.Browser)
	}

	if c.Web.ViewportWidth < 0 || c.Web.ViewportHeight < 0 {
		return fmt.Errorf("viewport dimensions cannot be negative")
	}

	if c.Web.LaunchTimeout < 0 || c.Electron.LaunchTimeout < 0 {
		return fmt.Errorf("launch_timeout cannot be negative")
	}

	if c.Electron.IPCTimeout <= 0 {
		return fmt.Errorf("ipc_timeout must be positive")
	}

	if c.Screenshot.Quality < 1 || c.Screenshot.Quality > 100 {
		return fmt.Errorf("screenshot quality must be between 1 and 100, got %d", c.Screenshot.Quality)
	}

	if c.Buffers.Console <= 0 || c.Buffers.Network <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}

	if c.Files.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size cannot be negative")
	}

	// Set default level if not specified
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}

	return nil
}
