package application

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrMeetingInactive is returned when a session is started against a deactivated meeting.
	ErrMeetingInactive = errors.New("application: meeting inactive")
	// ErrConcurrentModification is returned when another writer committed to the session first.
	ErrConcurrentModification = errors.New("application: concurrent modification")
	// ErrIdempotencyConflict is returned when a replayed local id carries a different payload.
	ErrIdempotencyConflict = errors.New("application: idempotency key reused with a different payload")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver, prefixing each field.
func (v *ValidationError) merge(prefix string, other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(prefix+field, msg)
	}
}
