// Package logger configures the orchestrator's structured logging: a
// colored slog text handler for terminals and an optional rotated file log.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where and how the orchestrator logs.
type Config struct {
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	File       string `mapstructure:"file"`         // optional rotated log file
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups"`  // rotated files to keep
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
	NoColor    bool   `mapstructure:"no_color"`     // plain text handler
}

// ParsedLevel parses the configured level, defaulting to info.
func (c Config) ParsedLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
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

// FileWriter returns the rotating writer for c.File, or nil when no file
// log is configured.
func (c Config) FileWriter() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Setup installs the default slog logger per c and returns a closer for
// the file writer, if any.
func Setup(c Config) io.Closer {
	opts := &slog.HandlerOptions{Level: c.ParsedLevel()}
	var w io.Writer = os.Stderr
	var closer io.Closer
	if fw := c.FileWriter(); fw != nil {
		w = io.MultiWriter(os.Stderr, fw)
		closer = fw
	}
	var h slog.Handler
	if c.NoColor || c.File != "" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = NewColorTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return closer
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
