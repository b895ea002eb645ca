package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/logging"
	"github.com/example/attendance-attest/internal/verification"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable label used in logs and sync reports.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMeetingInactive):
		return "meeting_inactive"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, attendance.ErrOutOfOrderEvent):
		return "out_of_order"
	case errors.Is(err, attendance.ErrDuplicateEvent):
		return "duplicate_event"
	case errors.Is(err, attendance.ErrSessionAlreadyComplete):
		return "session_complete"
	case errors.Is(err, attendance.ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return "invalid_coordinate"
	case errors.Is(err, verification.ErrInvalidRadius):
		return "invalid_radius"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
