package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapAdapter(t *testing.T) {
	t.Run("levels are filtered", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message", Field{"channel_id", "U123"})
		logger.Error("error message", errors.New("exchange rejected"))

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "U123")
		assert.Contains(t, output, "exchange rejected")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Format: FormatJSON, Output: &buf})
		require.NoError(t, err)

		logger.WithFields(Field{"cache_key", "svc1:line-channel-access-token"}).Info("cache hit")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, "cache hit", entry["msg"])
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "svc1:line-channel-access-token", entry["cache_key"])
	})

	t.Run("request id from context", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		ctx := ContextWithRequestID(context.Background(), "req-42")
		logger.WithContext(ctx).Info("handled")

		assert.Contains(t, buf.String(), "req-42")
		assert.Same(t, logger, logger.WithContext(context.Background()))
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	previous := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(previous)

	Info("global info", String("component", "bridge"))
	Error("global error", errors.New("boom"))

	assert.Contains(t, buf.String(), "global info")
	assert.Contains(t, buf.String(), "bridge")
	assert.Contains(t, buf.String(), "boom")
}
