package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/verification"
)

var (
	errBadRequestBody   = errors.New("request body is not valid JSON")
	errInvalidSessionID = errors.New("session id is required")
	errInvalidContactID = errors.New("contact id is required")
	errInvalidMeetingID = errors.New("meeting id is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: codeForStatus(status), Message: message})
}

// codeForStatus names errors that carry no service error kind, e.g. BAD_REQUEST.
func codeForStatus(status int) string {
	if status == http.StatusInternalServerError {
		return "INTERNAL"
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

// handleServiceError renders a service error with the status its kind maps to.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status := statusForError(err)
	if status == http.StatusInternalServerError {
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "error", err, "error_kind", application.ErrorKind(err))
		r.writeJSON(ctx, w, status, errorResponse{
			ErrorCode: codeForStatus(status),
			Message:   http.StatusText(status),
		})
		return
	}

	resp := errorResponse{
		ErrorCode: strings.ToUpper(application.ErrorKind(err)),
		Message:   errorMessage(err),
	}
	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		resp.Errors = vErr.FieldErrors
	}
	r.writeJSON(ctx, w, status, resp)
}

// handleDecodeError renders errors returned by decodeRequest.
func (r responder) handleDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBadRequestBody) {
		r.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	r.handleServiceError(ctx, w, err)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func statusForError(err error) int {
	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, verification.ErrInvalidRadius),
		errors.Is(err, application.ErrMeetingInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrOutOfOrderEvent),
		errors.Is(err, attendance.ErrSessionAlreadyComplete),
		errors.Is(err, attendance.ErrSessionEnded),
		errors.Is(err, attendance.ErrDuplicateEvent),
		errors.Is(err, application.ErrConcurrentModification),
		errors.Is(err, application.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, application.ErrNotFound):
		return "the requested resource was not found"
	case errors.Is(err, application.ErrMeetingInactive):
		return "the meeting is no longer active"
	case errors.Is(err, attendance.ErrOutOfOrderEvent):
		return "check-out requires a recorded check-in"
	case errors.Is(err, attendance.ErrSessionAlreadyComplete):
		return "the session is already complete"
	case errors.Is(err, attendance.ErrSessionEnded):
		return "the session has ended"
	case errors.Is(err, application.ErrConcurrentModification):
		return "the session was modified concurrently, retry the request"
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return "coordinates are out of range"
	}
	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return "the request contains invalid fields"
	}
	return err.Error()
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
