package application

import (
	"time"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/verification"
)

// MeetingInput captures caller provided meeting fields.
type MeetingInput struct {
	// ID is optional; catalog seeding supplies stable ids so reruns update in place.
	ID           string
	Name         string
	Address      string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	IsActive     *bool
}

// Meeting represents a destination catalog entry.
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

// Destination is the location snapshot a session verifies against.
type Destination struct {
	Name         string
	Address      string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

func (d Destination) verification() verification.Destination {
	return verification.Destination{Lat: d.Latitude, Lng: d.Longitude, RadiusMeters: d.RadiusMeters}
}

// Session represents a persisted attendance session.
type Session struct {
	ID                   string
	ContactID            string
	MeetingID            *string
	Status               attendance.Status
	Destination          Destination
	Notes                string
	IsComplete           bool
	PublicToken          *string
	PublicTokenExpiresAt *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SessionDetail pairs a session with its ordered event ledger.
type SessionDetail struct {
	Session Session
	Events  []attendance.Event
}

// SessionCommit is the atomic unit a SessionRepository writes for one transition.
type SessionCommit struct {
	SessionID            string
	ExpectedVersion      int64
	Status               attendance.Status
	IsComplete           bool
	PublicToken          *string
	PublicTokenExpiresAt *time.Time
	UpdatedAt            time.Time
	Event                attendance.Event
	Sync                 *SyncRecord
}

// SessionStart is the atomic unit a SessionRepository writes to open a session. Supersede
// ends the contact's previous open session in the same write.
type SessionStart struct {
	Session   Session
	Supersede *SessionCommit
	Sync      *SyncRecord
}

// SyncIntent names the offline item a transition applies. Its SyncRecord is written in the
// same commit as the transition.
type SyncIntent struct {
	LocalID       string
	ItemType      string
	SessionRef    string
	PayloadDigest string
}

// HistoryParams pages through a contact's sessions.
type HistoryParams struct {
	ContactID string
	Limit     int
	Offset    int
}

// SessionPage is one page of a contact's sessions, newest first.
type SessionPage struct {
	Sessions []Session
	Limit    int
	Offset   int
}

// CreateSessionParams wraps the data required to start a session.
type CreateSessionParams struct {
	ContactID   string
	MeetingID   *string
	DestName    string
	DestAddress string
	DestLat     *float64
	DestLng     *float64
	Notes       string
	Sync        *SyncIntent
}

// LocationParams carries one captured location sample for a session.
type LocationParams struct {
	SessionID  string
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	ClientTime time.Time
	// Timeout reports that the device gave up acquiring a fix; coordinates are ignored.
	Timeout bool
	Notes   string
	Sync    *SyncIntent
}

// EndSessionParams ends an open session without a check-out.
type EndSessionParams struct {
	SessionID  string
	Reason     string
	ClientTime time.Time
	Sync       *SyncIntent
}

// TransitionResult describes the outcome of a session transition.
type TransitionResult struct {
	Session         Session
	Event           attendance.Event
	Outcome         verification.Outcome
	Duplicate       bool
	DurationMinutes *int
}

// PublicSummary is the redacted view of a completed session served to token holders.
type PublicSummary struct {
	SessionID       string
	DestName        string
	DestAddress     string
	Status          attendance.Status
	CheckInAt       *time.Time
	CheckOutAt      *time.Time
	CheckInFlag     verification.Flag
	CheckOutFlag    verification.Flag
	DurationMinutes *int
	ExpiresAt       time.Time
	Events          []PublicEvent
}

// PublicEvent is an event stripped of coordinates and notes.
type PublicEvent struct {
	Type           attendance.EventType
	ServerTime     time.Time
	LocationFlag   verification.Flag
	DistanceMeters *float64
}

// Completion is published after a session commits its check-out.
type Completion struct {
	SessionID       string
	ContactID       string
	MeetingID       *string
	DestName        string
	CheckInAt       time.Time
	CheckOutAt      time.Time
	DurationMinutes int
	CheckInFlag     verification.Flag
	CheckOutFlag    verification.Flag
	PublicToken     string
}

// SyncRecord is the stored outcome of an applied offline item.
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
