package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
}

// Stage contains connection settings for one remote stage (analysis or
// generation). Any OpenAI-compatible chat completions endpoint works.
type Stage struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	Instruction       string `toml:"instruction"`
	AspectRatio       string `toml:"aspect_ratio"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Workflow contains configuration for the queue engine.
type Workflow struct {
	PacingDelayMS       int  `toml:"pacing_delay_ms"`
	StageTimeoutSeconds int  `toml:"stage_timeout_seconds"`
	AutoStart           bool `toml:"auto_start"`
	LogCapacity         int  `toml:"log_capacity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains ntfy push settings.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ItemFailures          bool   `toml:"item_failures"`
}

// Config encapsulates all configuration values for reimagine.
//
// Configuration sections by subsystem:
//   - Paths: runtime state directory and HTTP API bind address
//   - Analysis: vision model that describes each source image
//   - Generation: image model that renders the description
//   - Workflow: pacing, stage timeouts, and event log capacity
//   - Logging: log format, level, and retention
//   - Notifications: optional ntfy pushes for batch outcomes
type Config struct {
	Paths         Paths         `toml:"paths"`
	Analysis      Stage         `toml:"analysis"`
	Generation    Stage         `toml:"generation"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reimagine.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the Unix socket the daemon serves JSON-RPC on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "reimagine.sock")
}

// LockPath returns the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "reimagine.lock")
}

// PIDPath returns the file the running daemon records its process id in.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "reimagine.pid")
}

// LogDir returns the directory daemon log files are written to.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// CurrentLogPath returns the link that points at the newest session log.
func (c *Config) CurrentLogPath() string {
	return filepath.Join(c.LogDir(), "reimagine.log")
}

// PacingDelay is the pause between finishing one item and starting the next.
func (c *Config) PacingDelay() time.Duration {
	return time.Duration(c.Workflow.PacingDelayMS) * time.Millisecond
}

// StageTimeout bounds each remote stage call.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Workflow.StageTimeoutSeconds) * time.Second
}

// NotificationTimeout bounds each ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// MinRequestInterval converts a per-minute request budget to the spacing the
// stage clients enforce. Zero means unlimited.
func (s Stage) MinRequestInterval() time.Duration {
	if s.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(s.RequestsPerMinute)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
