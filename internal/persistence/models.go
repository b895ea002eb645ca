package persistence

import "time"

// Meeting is a destination catalog entry.
type Meeting struct {
	ID           string
	Name         string
	Address      string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is an attendance session row. The destination columns are a snapshot taken at creation.
type Session struct {
	ID                   string
	ContactID            string
	MeetingID            *string
	Status               string
	DestName             string
	DestAddress          string
	DestLat              float64
	DestLng              float64
	DestRadiusMeters     float64
	Notes                string
	IsComplete           bool
	PublicToken          *string
	PublicTokenExpiresAt *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SessionEvent is an append-only ledger row.
type SessionEvent struct {
	ID             string
	SessionID      string
	Seq            int64
	Type           string
	ClientTime     *time.Time
	ServerTime     time.Time
	Lat            *float64
	Lng            *float64
	Accuracy       *float64
	DistanceMeters *float64
	LocationFlag   *string
	Notes          string
}

// SyncRecord remembers the outcome of an applied offline item, keyed by the client's local id.
type SyncRecord struct {
	LocalID       string
	ItemType      string
	SessionRef    string
	SessionID     string
	ServerID      string
	PayloadDigest string
	Result        []byte
	CreatedAt     time.Time
}

// Transition is the unit written by SessionRepository.CommitTransition: one new event
// plus the session's new status, guarded by the version the caller read.
type Transition struct {
	SessionID            string
	ExpectedVersion      int64
	Status               string
	IsComplete           bool
	PublicToken          *string
	PublicTokenExpiresAt *time.Time
	UpdatedAt            time.Time
	Event                SessionEvent
	// Sync, when set, is inserted in the same write as the event.
	Sync *SyncRecord
}

// SessionStart is the unit written by SessionRepository.StartSession. Supersede ends the
// contact's previous open session; Sync records the offline item that started the session.
type SessionStart struct {
	Session   Session
	Supersede *Transition
	Sync      *SyncRecord
}
