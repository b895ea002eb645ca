package attendance

import (
	"fmt"
	"slices"
	"time"
)

// Resolution is the precision of server timestamps; consecutive events are at least this far apart.
const Resolution = time.Millisecond

// Ledger is the append-only event history of one session.
// It is not safe for concurrent use; callers serialise access per session.
type Ledger struct {
	sessionID string
	events    []Event
}

// NewLedger rebuilds a ledger from stored events. Events belonging to other sessions are rejected.
func NewLedger(sessionID string, events []Event) (*Ledger, error) {
	l := &Ledger{sessionID: sessionID, events: make([]Event, 0, len(events))}
	seen := map[EventType]bool{}
	for _, ev := range events {
		if ev.SessionID != sessionID {
			return nil, fmt.Errorf("attendance: event %s belongs to session %s, not %s", ev.ID, ev.SessionID, sessionID)
		}
		if ev.Type.Once() {
			if seen[ev.Type] {
				return nil, fmt.Errorf("%w: %s stored twice for session %s", ErrDuplicateEvent, ev.Type, sessionID)
			}
			seen[ev.Type] = true
		}
		l.events = append(l.events, ev)
	}
	slices.SortStableFunc(l.events, func(a, b Event) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return l, nil
}

// SessionID returns the session the ledger belongs to.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Len returns the number of events.
func (l *Ledger) Len() int {
	return len(l.events)
}

// Events returns a copy of the history ordered by server time.
func (l *Ledger) Events() []Event {
	return slices.Clone(l.events)
}

// Last returns the most recent event.
func (l *Ledger) Last() (Event, bool) {
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Find returns the first event of the given type.
func (l *Ledger) Find(t EventType) (Event, bool) {
	for _, ev := range l.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return Event{}, false
}

// NextServerTime returns the timestamp the next appended event would receive at now.
func (l *Ledger) NextServerTime(now time.Time) time.Time {
	ts := now.UTC().Truncate(Resolution)
	if last, ok := l.Last(); ok {
		floor := last.ServerTime.Add(Resolution)
		if ts.Before(floor) {
			ts = floor
		}
	}
	return ts
}

// Append stamps ev with the next sequence number and a server time no earlier than
// the previous event plus one Resolution, then records it.
func (l *Ledger) Append(ev Event, now time.Time) (Event, error) {
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, string(ev.Type))
	}
	if ev.Type.Once() {
		if _, exists := l.Find(ev.Type); exists {
			return Event{}, fmt.Errorf("%w: %s already recorded for session %s", ErrDuplicateEvent, ev.Type, l.sessionID)
		}
	}
	if ev.Type == EventCheckOut {
		if _, ok := l.Find(EventCheckIn); !ok {
			return Event{}, ErrOutOfOrderEvent
		}
	}

	ev.SessionID = l.sessionID
	ev.ServerTime = l.NextServerTime(now)
	ev.Seq = 1
	for _, existing := range l.events {
		if existing.Seq >= ev.Seq {
			ev.Seq = existing.Seq + 1
		}
	}

	l.events = append(l.events, ev)
	return ev, nil
}
