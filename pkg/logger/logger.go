package logger

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. Tests replace it with zaptest loggers.
var Log = zap.NewNop()

// Initialize builds the JSON production logger at the given level.
// Unknown levels fall back to info.
func Initialize(level string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	utcTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}

	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     utcTime,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Log = built
	return nil
}

type contextKey int

const loggerKey contextKey = iota

// WithLogger attaches a scoped logger to the context.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the scoped logger, or the global one, enriched with the
// company and request ids found in ctx.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}
	base := Log
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		base = l
	}
	if requestID, err := tenant.FromRequestIDContext(ctx); err == nil {
		base = base.With(zap.String("request_id", requestID))
	}
	return base
}

// FromContextOr returns the scoped logger or fallback when none is attached.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return Log
}

// WithFields returns a context whose logger carries the extra fields.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContextOr(ctx, nil).With(fields...))
}

// Sync flushes buffered entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
