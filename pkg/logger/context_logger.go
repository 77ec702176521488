package logger

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	RunIDKey     contextKey = "run_id"
	OperatorKey  contextKey = "operator"
)

// ContextLogger adds request-scoped ids carried in a context to every entry.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithRunID returns a copy of ctx carrying an acquisition run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithOperator records the authenticated token subject.
func WithOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, OperatorKey, subject)
}

// WithContext returns the base logger with the ids found in ctx, including
// the trace id of a sampled span.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	var fields []zapcore.Field

	if sc := trace.SpanContextFromContext(ctx); sc.IsSampled() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	for _, key := range []contextKey{RunIDKey, RequestIDKey, OperatorKey} {
		if id, ok := ctx.Value(key).(string); ok && id != "" {
			fields = append(fields, zap.String(string(key), id))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogRequest writes one access log entry. Server errors log at error level,
// client errors at warn.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, route string, status int, durationMs int64) {
	log := cl.WithContext(ctx)
	fields := []zapcore.Field{
		zap.String("method", method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("duration_ms", durationMs),
	}
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("http_request", fields...)
	case status >= http.StatusBadRequest:
		log.Warn("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}

func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info(message, fields...)
}
