package logger

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// output — stdout, плюс файл с ротацией если задан путь.
// os.Stdout читается на каждом Init, чтобы тесты могли его подменять.
func output(cfg Config) io.Writer {
	if cfg.File.Path == "" {
		return os.Stdout
	}

	maxSize := cfg.File.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	}
	return io.MultiWriter(os.Stdout, lj)
}
