package testfixtures

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/verification"
)

func TestPointNorthDistance(t *testing.T) {
	for _, meters := range []float64{15, 500} {
		lat, lng := PointNorth(CapitolLatitude, CapitolLongitude, meters)
		got, err := geo.DistanceMeters(
			geo.Coordinate{Lat: CapitolLatitude, Lng: CapitolLongitude},
			geo.Coordinate{Lat: lat, Lng: lng},
		)
		if err != nil {
			t.Fatalf("distance: %v", err)
		}
		if math.Abs(got-meters) > 0.01 {
			t.Fatalf("expected %v m, got %v", meters, got)
		}
	}
}

func TestSessionFixtureSnapshotsMeeting(t *testing.T) {
	meeting := NewMeetingFixture(WithMeetingRadius(250))
	fixture := NewSessionFixture(WithSessionMeeting(meeting), WithSessionStatus(attendance.StatusCompleted))

	app := fixture.Application()
	if app.MeetingID == nil || *app.MeetingID != meeting.ID || app.Destination.RadiusMeters != 250 {
		t.Fatalf("unexpected application session %+v", app)
	}
	if !app.IsComplete {
		t.Fatalf("completed fixtures should be marked complete")
	}

	row := fixture.Persistence()
	if row.Status != "completed" || row.DestRadiusMeters != 250 || row.DestName != meeting.Name {
		t.Fatalf("unexpected persistence session %+v", row)
	}
}

func TestEventFixturePersistenceOmitsEmptyFields(t *testing.T) {
	timeout := NewEventFixture(
		WithEventType(attendance.EventCheckOut),
		WithoutEventLocation(),
		WithEventOutcome(verification.FlagTimeout, nil),
		WithEventTimes(ReferenceTime().Add(-time.Minute), ReferenceTime()),
	)
	row := timeout.Persistence()
	if row.Lat != nil || row.DistanceMeters != nil {
		t.Fatalf("expected no coordinates, got %+v", row)
	}
	if row.LocationFlag == nil || *row.LocationFlag != "timeout" {
		t.Fatalf("expected timeout flag, got %v", row.LocationFlag)
	}

	status := NewEventFixture(WithEventType(attendance.EventStatusChange), WithEventOutcome("", nil), WithEventTimes(time.Time{}, ReferenceTime()))
	if row := status.Persistence(); row.LocationFlag != nil || row.ClientTime != nil {
		t.Fatalf("empty flag and client time should be stored as absent, got %+v", row)
	}
}

func TestSQLiteHarnessRoundTrip(t *testing.T) {
	harness := NewSQLiteHarness(t)
	ctx := context.Background()

	meeting := NewMeetingFixture()
	if err := harness.Meetings.CreateMeeting(ctx, meeting.Persistence()); err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	session := NewSessionFixture(WithSessionMeeting(meeting))
	if err := harness.Sessions.CreateSession(ctx, session.Persistence()); err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := harness.Sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ContactID != session.ContactID || got.MeetingID == nil || *got.MeetingID != meeting.ID {
		t.Fatalf("unexpected session %+v", got)
	}

	if _, err := harness.Syncs.GetSyncRecord(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
