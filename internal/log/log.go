// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nbstack/nbstack/internal/config"
)

// Init initializes the global logger based on configuration.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if cfg.Outputs.File.Enabled {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Outputs.File.Path,
			MaxSize:    cfg.Outputs.File.Rotation.MaxSizeMB,
			MaxAge:     cfg.Outputs.File.Rotation.MaxAgeDays,
			MaxBackups: cfg.Outputs.File.Rotation.MaxBackups,
			Compress:   cfg.Outputs.File.Rotation.Compress,
		})
	}
	if cfg.Outputs.Loki.Enabled {
		lokiWriter, err := NewLokiWriter(LokiConfig{
			Endpoint:      cfg.Outputs.Loki.Endpoint,
			Labels:        cfg.Outputs.Loki.Labels,
			BatchSize:     cfg.Outputs.Loki.BatchSize,
			FlushInterval: cfg.Outputs.Loki.BatchTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create loki writer: %w", err)
		}
		writers = append(writers, lokiWriter)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	multiWriter := io.MultiWriter(writers...)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(multiWriter, opts)
	case "text":
		handler = slog.NewTextHandler(multiWriter, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}
