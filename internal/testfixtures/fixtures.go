package testfixtures

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/verification"
)

var (
	meetingCounter uint64
	sessionCounter uint64
	eventCounter   uint64
)

var referenceTime = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Fixture destinations default to the California State Capitol.
const (
	CapitolLatitude  = 38.5767
	CapitolLongitude = -121.4934
)

// PointNorth returns the coordinate lying meters due north of (lat, lng).
func PointNorth(lat, lng, meters float64) (float64, float64) {
	return lat + meters/geo.EarthRadiusMeters*180/math.Pi, lng
}

// ---------------------------- Meeting fixtures ----------------------------

// MeetingFixture is a deterministic destination catalog entry.
type MeetingFixture struct {
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

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns an active meeting at the Capitol with a 100 m radius.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	created := referenceTime.Add(-time.Duration(idx) * time.Hour)
	fixture := MeetingFixture{
		ID:           fmt.Sprintf("meeting-%03d", idx),
		Name:         fmt.Sprintf("Hearing Room %03d", idx),
		Address:      "1315 10th St, Sacramento, CA",
		Latitude:     CapitolLatitude,
		Longitude:    CapitolLongitude,
		RadiusMeters: 100,
		IsActive:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingID overrides the meeting identifier.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ID = id
	}
}

// WithMeetingName overrides the meeting name.
func WithMeetingName(name string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Name = name
	}
}

// WithMeetingLocation moves the meeting.
func WithMeetingLocation(lat, lng float64) MeetingOption {
	return func(f *MeetingFixture) {
		f.Latitude = lat
		f.Longitude = lng
	}
}

// WithMeetingRadius overrides the verification radius.
func WithMeetingRadius(meters float64) MeetingOption {
	return func(f *MeetingFixture) {
		f.RadiusMeters = meters
	}
}

// WithMeetingInactive marks the meeting as retired.
func WithMeetingInactive() MeetingOption {
	return func(f *MeetingFixture) {
		f.IsActive = false
	}
}

// Application converts the fixture into an application.Meeting.
func (f MeetingFixture) Application() application.Meeting {
	return application.Meeting{
		ID:           f.ID,
		Name:         f.Name,
		Address:      f.Address,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		RadiusMeters: f.RadiusMeters,
		IsActive:     f.IsActive,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Persistence converts the fixture into a persistence.Meeting.
func (f MeetingFixture) Persistence() persistence.Meeting {
	return persistence.Meeting{
		ID:           f.ID,
		Name:         f.Name,
		Address:      f.Address,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		RadiusMeters: f.RadiusMeters,
		IsActive:     f.IsActive,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Input converts the fixture into the payload accepted by MeetingService.
func (f MeetingFixture) Input() application.MeetingInput {
	active := f.IsActive
	return application.MeetingInput{
		ID:           f.ID,
		Name:         f.Name,
		Address:      f.Address,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		RadiusMeters: f.RadiusMeters,
		IsActive:     &active,
	}
}

// ---------------------------- Session fixtures ----------------------------

// SessionFixture is a deterministic attendance session.
type SessionFixture struct {
	ID                   string
	ContactID            string
	MeetingID            *string
	Status               attendance.Status
	Destination          application.Destination
	Notes                string
	IsComplete           bool
	PublicToken          *string
	PublicTokenExpiresAt *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns an active ad hoc session targeting the Capitol.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:        fmt.Sprintf("session-%03d", idx),
		ContactID: fmt.Sprintf("contact-%03d", idx),
		Status:    attendance.StatusActive,
		Destination: application.Destination{
			Name:         "State Capitol",
			Address:      "1315 10th St, Sacramento, CA",
			Latitude:     CapitolLatitude,
			Longitude:    CapitolLongitude,
			RadiusMeters: 100,
		},
		Version:   1,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the session identifier.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithContactID overrides the owning contact.
func WithContactID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ContactID = id
	}
}

// WithSessionMeeting links the session to meeting and snapshots its location.
func WithSessionMeeting(meeting MeetingFixture) SessionOption {
	return func(f *SessionFixture) {
		id := meeting.ID
		f.MeetingID = &id
		f.Destination = application.Destination{
			Name:         meeting.Name,
			Address:      meeting.Address,
			Latitude:     meeting.Latitude,
			Longitude:    meeting.Longitude,
			RadiusMeters: meeting.RadiusMeters,
		}
	}
}

// WithSessionStatus sets the lifecycle status. Completed sessions are marked complete.
func WithSessionStatus(status attendance.Status) SessionOption {
	return func(f *SessionFixture) {
		f.Status = status
		f.IsComplete = status == attendance.StatusCompleted
	}
}

// WithPublicToken attaches a share token expiring at expiresAt.
func WithPublicToken(token string, expiresAt time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.PublicToken = &token
		f.PublicTokenExpiresAt = &expiresAt
	}
}

// WithSessionVersion overrides the optimistic concurrency version.
func WithSessionVersion(version int64) SessionOption {
	return func(f *SessionFixture) {
		f.Version = version
	}
}

// Application converts the fixture into an application.Session.
func (f SessionFixture) Application() application.Session {
	return application.Session{
		ID:                   f.ID,
		ContactID:            f.ContactID,
		MeetingID:            cloneString(f.MeetingID),
		Status:               f.Status,
		Destination:          f.Destination,
		Notes:                f.Notes,
		IsComplete:           f.IsComplete,
		PublicToken:          cloneString(f.PublicToken),
		PublicTokenExpiresAt: cloneTime(f.PublicTokenExpiresAt),
		Version:              f.Version,
		CreatedAt:            f.CreatedAt,
		UpdatedAt:            f.UpdatedAt,
	}
}

// Persistence converts the fixture into a persistence.Session.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:                   f.ID,
		ContactID:            f.ContactID,
		MeetingID:            cloneString(f.MeetingID),
		Status:               string(f.Status),
		DestName:             f.Destination.Name,
		DestAddress:          f.Destination.Address,
		DestLat:              f.Destination.Latitude,
		DestLng:              f.Destination.Longitude,
		DestRadiusMeters:     f.Destination.RadiusMeters,
		Notes:                f.Notes,
		IsComplete:           f.IsComplete,
		PublicToken:          cloneString(f.PublicToken),
		PublicTokenExpiresAt: cloneTime(f.PublicTokenExpiresAt),
		Version:              f.Version,
		CreatedAt:            f.CreatedAt,
		UpdatedAt:            f.UpdatedAt,
	}
}

// ----------------------------- Event fixtures -----------------------------

// EventFixture is a deterministic ledger entry.
type EventFixture struct {
	ID             string
	SessionID      string
	Seq            int64
	Type           attendance.EventType
	ClientTime     time.Time
	ServerTime     time.Time
	Lat            *float64
	Lng            *float64
	Accuracy       *float64
	DistanceMeters *float64
	Flag           verification.Flag
	Notes          string
}

// EventOption configures the generated event fixture.
type EventOption func(*EventFixture)

// NewEventFixture returns a granted check-in captured at the Capitol.
func NewEventFixture(opts ...EventOption) EventFixture {
	idx := atomic.AddUint64(&eventCounter, 1)
	lat, lng, accuracy, distance := CapitolLatitude, CapitolLongitude, 8.0, 0.0
	fixture := EventFixture{
		ID:             fmt.Sprintf("event-%03d", idx),
		SessionID:      "session-001",
		Seq:            1,
		Type:           attendance.EventCheckIn,
		ClientTime:     referenceTime,
		ServerTime:     referenceTime,
		Lat:            &lat,
		Lng:            &lng,
		Accuracy:       &accuracy,
		DistanceMeters: &distance,
		Flag:           verification.FlagGranted,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithEventSession attaches the event to a session.
func WithEventSession(sessionID string) EventOption {
	return func(f *EventFixture) {
		f.SessionID = sessionID
	}
}

// WithEventType overrides the event type.
func WithEventType(eventType attendance.EventType) EventOption {
	return func(f *EventFixture) {
		f.Type = eventType
	}
}

// WithEventSeq overrides the ledger sequence number.
func WithEventSeq(seq int64) EventOption {
	return func(f *EventFixture) {
		f.Seq = seq
	}
}

// WithEventTimes sets both timestamps. A zero client time is stored as absent.
func WithEventTimes(client, server time.Time) EventOption {
	return func(f *EventFixture) {
		f.ClientTime = client
		f.ServerTime = server
	}
}

// WithEventOutcome records the verification flag and distance.
func WithEventOutcome(flag verification.Flag, distance *float64) EventOption {
	return func(f *EventFixture) {
		f.Flag = flag
		f.DistanceMeters = distance
	}
}

// WithoutEventLocation clears the coordinates, as for a timed out fix.
func WithoutEventLocation() EventOption {
	return func(f *EventFixture) {
		f.Lat, f.Lng, f.Accuracy, f.DistanceMeters = nil, nil, nil, nil
	}
}

// Application converts the fixture into an attendance.Event.
func (f EventFixture) Application() attendance.Event {
	return attendance.Event{
		ID:             f.ID,
		SessionID:      f.SessionID,
		Seq:            f.Seq,
		Type:           f.Type,
		ClientTime:     f.ClientTime,
		ServerTime:     f.ServerTime,
		Lat:            cloneFloat(f.Lat),
		Lng:            cloneFloat(f.Lng),
		Accuracy:       cloneFloat(f.Accuracy),
		DistanceMeters: cloneFloat(f.DistanceMeters),
		LocationFlag:   f.Flag,
		Notes:          f.Notes,
	}
}

// Persistence converts the fixture into a persistence.SessionEvent.
func (f EventFixture) Persistence() persistence.SessionEvent {
	ev := persistence.SessionEvent{
		ID:             f.ID,
		SessionID:      f.SessionID,
		Seq:            f.Seq,
		Type:           string(f.Type),
		ServerTime:     f.ServerTime,
		Lat:            cloneFloat(f.Lat),
		Lng:            cloneFloat(f.Lng),
		Accuracy:       cloneFloat(f.Accuracy),
		DistanceMeters: cloneFloat(f.DistanceMeters),
		Notes:          f.Notes,
	}
	if !f.ClientTime.IsZero() {
		client := f.ClientTime
		ev.ClientTime = &client
	}
	if f.Flag != "" {
		flag := string(f.Flag)
		ev.LocationFlag = &flag
	}
	return ev
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
