package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyUserID    ctxKey = "uid"
)

// basic global logger, JSON to stdout.
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func Logger() *slog.Logger {
	return logger
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// WithUserID stores the acting uid in the context.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, uid)
}

// LoggerFromContext adds request_id and uid if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	log := logger
	if reqID, _ := ctx.Value(ctxKeyRequestID).(string); reqID != "" {
		log = log.With("request_id", reqID)
	}
	if uid, _ := ctx.Value(ctxKeyUserID).(string); uid != "" {
		log = log.With("uid", uid)
	}
	return log
}
