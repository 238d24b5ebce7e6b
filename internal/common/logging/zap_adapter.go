package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter implements Logger on top of zap
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapLogger builds a zap-backed Logger from config
func NewZapLogger(config LogConfig) (Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		FunctionKey:    zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	if config.TimeFormat != "" {
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeFormat)
	}

	var encoder zapcore.Encoder
	if config.Format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	writer := zapcore.AddSync(os.Stdout)
	if config.Output != nil {
		writer = zapcore.AddSync(config.Output)
	}

	logger := zap.New(zapcore.NewCore(encoder, writer, toZapLevel(config.Level)))
	if config.Name != "" {
		logger = logger.Named(config.Name)
	}

	return &ZapAdapter{logger: logger}, nil
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, toZapFields(fields)...)
}

func (z *ZapAdapter) Info(msg string, fields ...Field) {
	z.logger.Info(msg, toZapFields(fields)...)
}

func (z *ZapAdapter) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, toZapFields(fields)...)
}

// Error logs msg with err attached under the "error" key
func (z *ZapAdapter) Error(msg string, err error, fields ...Field) {
	zapFields := toZapFields(fields)
	if err != nil {
		zapFields = append(zapFields, zap.Error(err))
	}
	z.logger.Error(msg, zapFields...)
}

// WithFields returns a child logger carrying fields on every entry
func (z *ZapAdapter) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(toZapFields(fields)...)}
}

// WithContext returns a child logger tagged with the request id found in ctx, if any
func (z *ZapAdapter) WithContext(ctx context.Context) Logger {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(zap.String("request_id", requestID))}
}

// Sync flushes buffered entries
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, field := range fields {
		zapFields[i] = zap.Any(field.Key, field.Value)
	}
	return zapFields
}
