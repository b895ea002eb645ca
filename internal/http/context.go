package http

import (
	"context"
	"log/slog"

	"github.com/example/attendance-attest/internal/logging"
)

type contextKey string

const (
	sessionIDContextKey contextKey = "session_id"
	contactIDContextKey contextKey = "contact_id"
	meetingIDContextKey contextKey = "meeting_id"
	requestIDContextKey contextKey = "request_id"
)

// ContextWithLogger attaches a request scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext returns the request scoped logger, if any.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// handlerLogger prefers the request logger and tags it with the handler and operation.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	logger := LoggerFromContext(ctx)
	if logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(append([]any{"handler", handlerName, "operation", operation}, attrs...)...)
}

// ContextWithSessionID injects the session identifier resolved from the request path.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// SessionIDFromContext extracts a session identifier previously associated with the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok
}

// ContextWithContactID injects the contact identifier resolved from the request path.
func ContextWithContactID(ctx context.Context, contactID string) context.Context {
	return context.WithValue(ctx, contactIDContextKey, contactID)
}

// ContactIDFromContext extracts a contact identifier previously associated with the context.
func ContactIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contactIDContextKey).(string)
	return id, ok
}

// ContextWithMeetingID injects the meeting identifier resolved from the request path.
func ContextWithMeetingID(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, meetingIDContextKey, meetingID)
}

// MeetingIDFromContext extracts a meeting identifier previously associated with the context.
func MeetingIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(meetingIDContextKey).(string)
	return id, ok
}

// RequestIDFromContext returns the id RequestLogger assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
