package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reimagine/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Output receives console or JSON lines; defaults to stdout.
	Output io.Writer
	// FilePath, when set, additionally receives every record as JSON.
	FilePath string
	// SessionID is stamped on every record when non-empty.
	SessionID   string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	addSource := opts.Development || level <= slog.LevelDebug

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = newJSONHandler(output, levelVar, addSource)
	case "console":
		handler = newPrettyHandler(output, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := openLogFile(path)
		if err != nil {
			return nil, err
		}
		handler = newTeeHandler(handler, newJSONHandler(file, levelVar, addSource))
	}

	if opts.SessionID != "" {
		handler = newSessionIDHandler(handler, opts.SessionID)
	}

	return slog.New(handler), nil
}

// NewFromConfig creates a logger from the [logging] config section. Fields set
// in opts take precedence; without a FilePath the session writes a new JSON
// log under the state directory.
func NewFromConfig(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if cfg == nil {
		return New(opts)
	}
	if strings.TrimSpace(opts.Level) == "" {
		opts.Level = cfg.Logging.Level
	}
	if strings.TrimSpace(opts.Format) == "" {
		opts.Format = cfg.Logging.Format
	}
	if strings.TrimSpace(opts.FilePath) == "" && strings.TrimSpace(cfg.Paths.StateDir) != "" {
		opts.FilePath = filepath.Join(cfg.LogDir(), SessionLogName(time.Now()))
	}
	return New(opts)
}

// SessionLogName returns the log file name for a daemon session started at ts.
func SessionLogName(ts time.Time) string {
	return "reimagine-" + ts.UTC().Format("20060102T150405Z") + ".log"
}

// SessionLogPattern matches files produced by SessionLogName.
const SessionLogPattern = "reimagine-*.log"

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
