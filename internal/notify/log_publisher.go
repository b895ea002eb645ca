package notify

import (
	"context"
	"log/slog"
)

// LogPublisher writes messages to a logger. It is used when no webhook is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher; nil selects slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "session completed",
		"kind", msg.Kind,
		"session_id", msg.SessionID,
		"contact_id", msg.ContactID,
		"duration_minutes", msg.DurationMinutes,
		"check_in_flag", msg.CheckInFlag,
		"check_out_flag", msg.CheckOutFlag,
	)
	return nil
}
