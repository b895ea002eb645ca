package persistence

import "context"

// MeetingFilter narrows meeting queries.
type MeetingFilter struct {
	ActiveOnly bool
}

// MeetingRepository stores the destination catalog.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
}

// SessionRepository stores sessions and their event ledgers.
type SessionRepository interface {
	// CreateSession inserts a session. A contact may hold at most one open session;
	// violating that returns ErrDuplicate.
	CreateSession(ctx context.Context, session Session) error
	// StartSession inserts start.Session, applies start.Supersede and saves start.Sync in one
	// atomic write. Nothing is written when any part fails.
	StartSession(ctx context.Context, start SessionStart) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	FindOpenSession(ctx context.Context, contactID string) (Session, error)
	// ListSessionsByContact returns the contact's sessions newest first. A limit of zero or
	// less returns every remaining session.
	ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]Session, error)
	// ListEvents returns a session's events ordered by server time, then sequence.
	ListEvents(ctx context.Context, sessionID string) ([]SessionEvent, error)
	// CommitTransition atomically appends the event and updates the session. It returns
	// ErrConflict when the stored version differs from ExpectedVersion and ErrDuplicate when
	// the event would be a second check_in or check_out or when Sync reuses a local id.
	CommitTransition(ctx context.Context, transition Transition) (Session, error)
}

// SyncRecordRepository stores the offline idempotency ledger.
type SyncRecordRepository interface {
	GetSyncRecord(ctx context.Context, localID string) (SyncRecord, error)
	// FindSyncRecordBySessionRef resolves a client-side session reference created by a start item.
	FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (SyncRecord, error)
	// SaveSyncRecord returns ErrDuplicate when the local id is already recorded.
	SaveSyncRecord(ctx context.Context, record SyncRecord) error
}

// Store bundles the repositories a backend provides.
type Store interface {
	MeetingRepository
	SessionRepository
	SyncRecordRepository
	Close() error
}
