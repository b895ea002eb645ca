package attendance

import "errors"

var (
	// ErrOutOfOrderEvent indicates a check_out was attempted without a prior check_in.
	ErrOutOfOrderEvent = errors.New("attendance: check_out requires a prior check_in")
	// ErrDuplicateEvent indicates a second check_in or check_out for the same session.
	ErrDuplicateEvent = errors.New("attendance: duplicate event")
	// ErrSessionAlreadyComplete indicates an operation against a completed session.
	ErrSessionAlreadyComplete = errors.New("attendance: session already complete")
	// ErrSessionEnded indicates an operation against a session that was ended without completing.
	ErrSessionEnded = errors.New("attendance: session ended")
	// ErrUnknownEventType indicates an event type outside the closed set.
	ErrUnknownEventType = errors.New("attendance: unknown event type")
)
