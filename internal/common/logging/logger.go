package logging

import (
	"context"
	"fmt"
	"io"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// NewDefaultLogger creates a logger from DefaultLogConfig
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	logger, _ := NewZapLogger(LogConfig{Level: ErrorLevel, Output: io.Discard})
	return logger
}

// InitGlobalLogger installs a logger built from LOG_LEVEL and LOG_FORMAT
func InitGlobalLogger() {
	config := DefaultLogConfig()
	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", config.Level.String()},
		Field{"format", string(config.Format)},
	)
}

// MustSync flushes the global logger before exit
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// ContextWithRequestID stores a request id for WithContext to pick up
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored in ctx or ""
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}

// WithContext is a convenience wrapper around the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience wrapper around the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}
