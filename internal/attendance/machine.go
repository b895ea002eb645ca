package attendance

import (
	"fmt"
	"math"
	"time"

	"github.com/example/attendance-attest/internal/verification"
)

// Input carries a client request to record a located event.
type Input struct {
	EventID string
	Sample  verification.Sample
	Notes   string
}

// Transition describes what a Machine operation did.
type Transition struct {
	From    Status
	To      Status
	Event   Event
	Outcome verification.Outcome
	// Duplicate is set when a check_in retry returned the already recorded event.
	Duplicate bool
	// DurationMinutes is set on check_out.
	DurationMinutes *int
}

// Changed reports whether the transition appended a new event.
func (t Transition) Changed() bool {
	return !t.Duplicate
}

// Completed reports whether the transition moved the session into StatusCompleted.
func (t Transition) Completed() bool {
	return t.From != StatusCompleted && t.To == StatusCompleted
}

// Machine drives one session through its lifecycle. Machines are short-lived: build one from
// stored state, apply a single operation, persist the transition.
type Machine struct {
	status Status
	dest   verification.Destination
	ledger *Ledger
}

// NewMachine binds a session's current status and destination snapshot to its ledger.
func NewMachine(status Status, dest verification.Destination, ledger *Ledger) (*Machine, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("attendance: unknown status %q", string(status))
	}
	if ledger == nil {
		return nil, fmt.Errorf("attendance: ledger is required")
	}
	return &Machine{status: status, dest: dest, ledger: ledger}, nil
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.status
}

// Ledger returns the underlying ledger.
func (m *Machine) Ledger() *Ledger {
	return m.ledger
}

// CheckIn records the first arrival at the destination. A retry after a check_in was already
// recorded returns that event with Duplicate set and leaves the session unchanged.
func (m *Machine) CheckIn(in Input, now time.Time) (Transition, error) {
	if err := m.status.guard(); err != nil {
		return Transition{}, err
	}
	if existing, ok := m.ledger.Find(EventCheckIn); ok {
		return Transition{
			From:      m.status,
			To:        m.status,
			Event:     existing,
			Outcome:   outcomeOf(existing),
			Duplicate: true,
		}, nil
	}
	return m.located(EventCheckIn, in, now, StatusCheckedIn)
}

// CheckOut records departure and completes the session.
func (m *Machine) CheckOut(in Input, now time.Time) (Transition, error) {
	if err := m.status.guard(); err != nil {
		return Transition{}, err
	}
	checkIn, ok := m.ledger.Find(EventCheckIn)
	if !ok {
		return Transition{}, ErrOutOfOrderEvent
	}
	if _, done := m.ledger.Find(EventCheckOut); done {
		return Transition{}, fmt.Errorf("%w: check_out already recorded", ErrDuplicateEvent)
	}

	tr, err := m.located(EventCheckOut, in, now, StatusCompleted)
	if err != nil {
		return Transition{}, err
	}
	minutes := DurationMinutes(checkIn.ServerTime, tr.Event.ServerTime)
	tr.DurationMinutes = &minutes
	return tr, nil
}

// RecordLocation appends an intermediate location sample without changing status.
func (m *Machine) RecordLocation(in Input, now time.Time) (Transition, error) {
	if err := m.status.guard(); err != nil {
		return Transition{}, err
	}
	return m.located(EventLocationUpdate, in, now, m.status)
}

// End closes an open session without completing it. The reason is kept on the status_change event.
func (m *Machine) End(eventID, reason string, clientTime, now time.Time) (Transition, error) {
	if err := m.status.guard(); err != nil {
		return Transition{}, err
	}
	from := m.status
	ev, err := m.ledger.Append(Event{
		ID:         eventID,
		Type:       EventStatusChange,
		ClientTime: clientTime,
		Notes:      reason,
	}, now)
	if err != nil {
		return Transition{}, err
	}
	m.status = StatusEnded
	return Transition{From: from, To: StatusEnded, Event: ev}, nil
}

func (m *Machine) located(t EventType, in Input, now time.Time, next Status) (Transition, error) {
	if !m.status.CanTransition(next) {
		return Transition{}, fmt.Errorf("attendance: cannot move from %s to %s", m.status, next)
	}
	outcome, err := verification.Verify(m.dest, in.Sample)
	if err != nil {
		return Transition{}, err
	}

	ev := Event{
		ID:             in.EventID,
		Type:           t,
		ClientTime:     in.Sample.Timestamp,
		Accuracy:       in.Sample.Accuracy,
		DistanceMeters: outcome.DistanceMeters,
		LocationFlag:   outcome.Flag,
		Notes:          in.Notes,
	}
	if !in.Sample.Timeout {
		lat, lng := in.Sample.Lat, in.Sample.Lng
		ev.Lat, ev.Lng = &lat, &lng
	}

	stored, err := m.ledger.Append(ev, now)
	if err != nil {
		return Transition{}, err
	}
	from := m.status
	m.status = next
	return Transition{From: from, To: next, Event: stored, Outcome: outcome}, nil
}

// DurationMinutes returns the whole minutes between check-in and check-out, rounded half away from zero.
func DurationMinutes(checkIn, checkOut time.Time) int {
	return int(math.Round(checkOut.Sub(checkIn).Minutes()))
}

func outcomeOf(ev Event) verification.Outcome {
	return verification.Outcome{Flag: ev.LocationFlag, DistanceMeters: ev.DistanceMeters}
}
