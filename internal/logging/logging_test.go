package logging

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestContextWithLogger(t *testing.T) {
	t.Run("round trips the logger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := ContextWithLogger(context.Background(), logger)
		if got := FromContext(ctx); got != logger {
			t.Fatalf("expected logger from context, got %v", got)
		}
	})

	t.Run("nil logger leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		if got := ContextWithLogger(ctx, nil); got != ctx {
			t.Fatalf("expected original context")
		}
		if FromContext(ctx) != nil {
			t.Fatalf("expected no logger on bare context")
		}
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
