package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"rhgestor.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a security event enriched with request and actor context.
func LogEvent(ctx context.Context, logger *zap.Logger, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if logger == nil {
		return nil
	}
	all := make([]zap.Field, 0, len(fields)+3)
	all = append(all, zap.String("type", "audit"))
	if rid := RequestIDFromContext(ctx); rid != "" {
		all = append(all, zap.String("request_id", rid))
	}
	if actor := auth.ActorIDFromContext(ctx); actor > 0 {
		all = append(all, zap.Int64("actor_id", actor))
	}
	all = append(all, fields...)
	logger.Info(event, all...)
	return nil
}
