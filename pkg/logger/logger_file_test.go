package logger_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwrk-planet/signal-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signal.log")

	out := captureStdOut(func() {
		logger.Init(logger.Config{
			Service: "signal-service",
			Env:     logger.EnvDev,
			Backend: logger.BackendStd,
			File:    logger.File{Path: path, MaxSizeMB: 1},
		})
		slog.Info("to both sinks")
	})

	assert.Contains(t, out, "to both sinks")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "to both sinks"))
}

func TestFromContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	out := captureStdOut(func() {
		logger.Init(logger.Config{Service: "signal-service", Env: logger.EnvDev, Backend: logger.BackendStd})
		logger.FromContext(ctx).Info("traced")
		logger.FromContext(context.Background()).Info("untraced")
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id="+span.SpanContext().TraceID().String())
	assert.NotContains(t, lines[1], "trace_id=")
}

func TestL_ReturnsInitialisedLogger(t *testing.T) {
	out := captureStdOut(func() {
		logger.Init(logger.Config{Service: "signal-service", Env: logger.EnvDev, Backend: logger.BackendStd})
		assert.Same(t, slog.Default(), logger.L())
		logger.L().Info("via L")
	})

	assert.Contains(t, out, "via L")
	assert.Contains(t, out, "service=signal-service")
}
