// Package logging provides structured logging types and interfaces
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the upper-case name of the level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a key-value pair attached to a log entry
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the logging contract used across the bridge
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// Format selects the zap encoder
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// LogConfig holds logger configuration
type LogConfig struct {
	Level      LogLevel
	Format     Format
	Output     io.Writer
	TimeFormat string
	Name       string
}

// ParseLevel converts a string to a LogLevel, defaulting to InfoLevel
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ParseFormat converts a string to a Format, defaulting to console output
func ParseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}

// DefaultLogConfig reads LOG_LEVEL and LOG_FORMAT and writes to stdout
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:     ParseFormat(os.Getenv("LOG_FORMAT")),
		TimeFormat: time.RFC3339,
	}
}

var (
	globalLogger Logger
	globalMu     sync.RWMutex
	initOnce     sync.Once
)

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger Logger) {
	initOnce.Do(func() {})
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger, creating a default one on first use
func GetGlobalLogger() Logger {
	initOnce.Do(func() {
		globalMu.Lock()
		globalLogger = NewDefaultLogger()
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs a debug message using the global logger
func Debug(msg string, fields ...Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

// Info logs an info message using the global logger
func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

// Warn logs a warning message using the global logger
func Warn(msg string, fields ...Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

// Error logs an error message using the global logger
func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
