package logger

import (
	"log/slog"
)

func newStdHandler(cfg Config) slog.Handler {
	var level slog.Level
	if cfg.Debug && cfg.Level == 0 {
		level = slog.LevelDebug
	} else {
		level = cfg.Level
	}

	return slog.NewTextHandler(output(cfg), &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource || false,
	})
}
