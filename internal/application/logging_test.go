package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/geo"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerFallsBackToBase(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := serviceLogger(context.Background(), base, "SessionService", "CheckIn"); got == nil {
		t.Fatalf("expected derived logger")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":              {err: nil, want: ""},
		"not found":        {err: fmt.Errorf("load: %w", ErrNotFound), want: "not_found"},
		"meeting inactive": {err: ErrMeetingInactive, want: "meeting_inactive"},
		"conflict":         {err: ErrConcurrentModification, want: "concurrent_modification"},
		"idempotency":      {err: ErrIdempotencyConflict, want: "idempotency_conflict"},
		"out of order":     {err: attendance.ErrOutOfOrderEvent, want: "out_of_order"},
		"complete":         {err: attendance.ErrSessionAlreadyComplete, want: "session_complete"},
		"ended":            {err: attendance.ErrSessionEnded, want: "session_ended"},
		"coordinate":       {err: fmt.Errorf("%w: lat", geo.ErrInvalidCoordinate), want: "invalid_coordinate"},
		"validation":       {err: &ValidationError{FieldErrors: map[string]string{"a": "b"}}, want: "validation"},
		"other":            {err: errors.New("boom"), want: "unexpected"},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tc.err); got != tc.want {
				t.Fatalf("ErrorKind() = %q, want %q", got, tc.want)
			}
		})
	}
}
