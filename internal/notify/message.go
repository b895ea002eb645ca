// Package notify delivers session completion messages outside the transition path.
package notify

import (
	"context"
	"time"
)

// KindSessionCompleted labels messages emitted when a check-out completes a session.
const KindSessionCompleted = "session.completed"

// Message is the JSON document delivered to publishers.
type Message struct {
	Kind            string    `json:"kind"`
	SessionID       string    `json:"session_id"`
	ContactID       string    `json:"contact_id"`
	MeetingID       *string   `json:"meeting_id,omitempty"`
	DestName        string    `json:"dest_name"`
	CheckInAt       time.Time `json:"check_in_at"`
	CheckOutAt      time.Time `json:"check_out_at"`
	DurationMinutes int       `json:"duration_minutes"`
	CheckInFlag     string    `json:"check_in_flag"`
	CheckOutFlag    string    `json:"check_out_flag"`
	PublicToken     string    `json:"public_token"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers a single message. Implementations may block.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
