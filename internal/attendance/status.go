// Package attendance holds the session lifecycle: the closed status set, the event ledger,
// and the state machine that turns check-in/check-out requests into ledger entries.
package attendance

import "fmt"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusEnded     Status = "ended"
)

// transitions lists the legal status moves. Staying in place is always allowed.
var transitions = map[Status][]Status{
	StatusActive:    {StatusCheckedIn, StatusEnded},
	StatusCheckedIn: {StatusCompleted, StatusEnded},
	StatusCompleted: nil,
	StatusEnded:     nil,
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.Valid() {
		return "", fmt.Errorf("attendance: unknown status %q", value)
	}
	return s, nil
}

// Valid reports whether s is part of the closed status set.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Open reports whether the session still accepts events.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusCheckedIn
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return s.Valid()
	}
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// guard returns the sentinel for a terminal status, or nil when the session is open.
func (s Status) guard() error {
	switch s {
	case StatusCompleted:
		return ErrSessionAlreadyComplete
	case StatusEnded:
		return ErrSessionEnded
	case StatusActive, StatusCheckedIn:
		return nil
	default:
		return fmt.Errorf("attendance: unknown status %q", string(s))
	}
}
