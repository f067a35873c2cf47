// Package logging builds structured slog loggers for the server and agent
// binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LoggerConfig holds configuration for creating a logger.
type LoggerConfig struct {
	Format string     // "json" or "text"
	Level  slog.Level
	Output io.Writer
}

// NewLogger creates a new slog.Logger with the given configuration.
func NewLogger(config LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: config.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return slog.New(handler)
}

// ComponentLoggers holds one child logger per subsystem, all writing to the
// same underlying file but tagged with a "component" attribute so a single
// log stream can be filtered per subsystem (api, scheduler, push, agent).
type ComponentLoggers struct {
	base *slog.Logger
	file *os.File
}

// Close closes the underlying log file, if one was opened.
func (c *ComponentLoggers) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

// Component returns a logger tagged with the given subsystem name.
func (c *ComponentLoggers) Component(name string) *slog.Logger {
	return c.base.With("component", name)
}

// ComponentLoggersConfig configures a ComponentLoggers set.
type ComponentLoggersConfig struct {
	Format  string
	Level   slog.Level
	LogPath string // if empty, writes to stderr
}

// NewComponentLoggers opens LogPath (creating/appending) and returns a
// ComponentLoggers rooted at it. If LogPath is empty, logs go to stderr.
func NewComponentLoggers(config ComponentLoggersConfig) (*ComponentLoggers, error) {
	var out io.Writer = os.Stderr
	var f *os.File

	if config.LogPath != "" {
		opened, err := os.OpenFile(config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", config.LogPath, err)
		}
		f = opened
		out = opened
	}

	base := NewLogger(LoggerConfig{
		Format: config.Format,
		Level:  config.Level,
		Output: out,
	})

	return &ComponentLoggers{base: base, file: f}, nil
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
