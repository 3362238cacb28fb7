package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{"debug lower", "debug", slog.LevelDebug},
		{"debug upper", "DEBUG", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"warning", "WARNING", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"padded", "  error ", slog.LevelError},
		{"invalid", "verbose", slog.LevelInfo},
		{"empty", "", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.input))
		})
	}
}

func TestNewStructuredLogger(t *testing.T) {
	logger := NewStructuredLogger("bug-hunter", "v0.0.1", "warn")
	ctx := context.Background()

	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
}

func TestSetDefaultStructuredLoggerWithLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	SetDefaultStructuredLoggerWithLevel("bug-hunter", "dev", "debug")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	assert.NotNil(t, NewLogLogger(slog.LevelInfo))
}
