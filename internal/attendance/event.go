package attendance

import (
	"time"

	"github.com/example/attendance-attest/internal/verification"
)

// EventType enumerates the kinds of entries a session ledger accepts.
type EventType string

const (
	EventCheckIn        EventType = "check_in"
	EventCheckOut       EventType = "check_out"
	EventLocationUpdate EventType = "location_update"
	EventStatusChange   EventType = "status_change"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventCheckIn, EventCheckOut, EventLocationUpdate, EventStatusChange:
		return true
	}
	return false
}

// Once reports whether at most one event of this type may exist per session.
func (t EventType) Once() bool {
	return t == EventCheckIn || t == EventCheckOut
}

// Event is an immutable ledger entry. ServerTime and Seq are assigned by the Ledger.
type Event struct {
	ID             string
	SessionID      string
	Seq            int64
	Type           EventType
	ClientTime     time.Time
	ServerTime     time.Time
	Lat            *float64
	Lng            *float64
	Accuracy       *float64
	DistanceMeters *float64
	LocationFlag   verification.Flag
	Notes          string
}

// Before orders events by server time, then by sequence.
func (e Event) Before(other Event) bool {
	if !e.ServerTime.Equal(other.ServerTime) {
		return e.ServerTime.Before(other.ServerTime)
	}
	return e.Seq < other.Seq
}
