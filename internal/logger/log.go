// Package logger configures the process-wide slog default. Everything
// logs JSON; the "service" attribute tags every line so aggregated
// streams stay attributable.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"mentor-crm/internal/config"

	"gopkg.in/lumberjack.v2"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func Init(cfg config.LogConfig) {
	level, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}

	h := slog.NewJSONHandler(buildOutput(cfg), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h).With("service", "mentor-crm"))
	Info("logging ready", "level", level.String(), "file", cfg.File)
}

// buildOutput resolves the configured sinks, falling back to stdout so
// a blank config never swallows logs.
func buildOutput(cfg config.LogConfig) io.Writer {
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, os.Stdout)
	}
	if cfg.File != "" {
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		})
	}
	switch len(sinks) {
	case 0:
		return os.Stdout
	case 1:
		return sinks[0]
	}
	return io.MultiWriter(sinks...)
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }
