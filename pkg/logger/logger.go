package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

// New builds the process logger. Production mode writes JSON with ISO8601
// timestamps, anything else gets the colored console encoder.
func New(mode string, debug bool) *zap.Logger {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	return l
}

type ctxKey string

// RequestIDKey carries the request id placed by the HTTP middleware.
const RequestIDKey ctxKey = "request_id"

// WithRequestID stores id on ctx for later use by FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id stored on ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext decorates l with the request id found on ctx, if any.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if ctx == nil {
		return l
	}
	if id := RequestID(ctx); id != "" {
		return l.With(zap.String(string(RequestIDKey), id))
	}
	return l
}
