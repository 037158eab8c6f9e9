// Package logger holds the slog setup for the starter itself and the
// rotating-file capture for server console output. The two are separate
// concerns: slog is ours, the console files belong to the spawned servers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for console capture files.
const (
	DefaultMaxSizeMB  = 50 // a busy server console grows fast
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes console capture for spawned server processes.
// When Dir is empty no capture happens and callers should fall back to
// the null device. Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Writers returns rotating write-closers for a world's server stdout and
// stderr, or nil writers when no capture directory is configured.
func (c Config) Writers(world string) (io.WriteCloser, io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create console log dir: %w", err)
	}
	out := c.rotating(filepath.Join(c.Dir, world+".console.log"))
	errW := c.rotating(filepath.Join(c.Dir, world+".console.err.log"))
	return out, errW, nil
}

func (c Config) rotating(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Setup installs the process-wide slog default. Level is one of
// debug/info/warn/error (default info); color selects the ANSI handler,
// which is only worth it on a terminal.
func Setup(level string, color bool) {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if color {
		h = NewColorTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
