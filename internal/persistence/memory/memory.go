// Package memory provides a map-backed implementation of the persistence repositories.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/attendance-attest/internal/persistence"
)

// Storage keeps every repository in process memory behind one lock.
type Storage struct {
	mu       sync.RWMutex
	meetings map[string]persistence.Meeting
	sessions map[string]persistence.Session
	events   map[string][]persistence.SessionEvent
	records  map[string]persistence.SyncRecord
}

var _ persistence.Store = (*Storage)(nil)

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{
		meetings: make(map[string]persistence.Meeting),
		sessions: make(map[string]persistence.Session),
		events:   make(map[string][]persistence.SessionEvent),
		records:  make(map[string]persistence.SyncRecord),
	}
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// --- MeetingRepository implementation ---

// CreateMeeting stores a new meeting.
func (s *Storage) CreateMeeting(_ context.Context, meeting persistence.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrDuplicate)
	}
	s.meetings[meeting.ID] = meeting
	return nil
}

// UpdateMeeting replaces an existing meeting.
func (s *Storage) UpdateMeeting(_ context.Context, meeting persistence.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.meetings[meeting.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	meeting.CreatedAt = current.CreatedAt
	s.meetings[meeting.ID] = meeting
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (s *Storage) GetMeeting(_ context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return meeting, nil
}

// ListMeetings returns meetings ordered by name, then ID.
func (s *Storage) ListMeetings(_ context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meetings := make([]persistence.Meeting, 0, len(s.meetings))
	for _, meeting := range s.meetings {
		if filter.ActiveOnly && !meeting.IsActive {
			continue
		}
		meetings = append(meetings, meeting)
	}
	sort.Slice(meetings, func(i, j int) bool {
		if meetings[i].Name == meetings[j].Name {
			return meetings[i].ID < meetings[j].ID
		}
		return meetings[i].Name < meetings[j].Name
	})
	return meetings, nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new session.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	_, err := s.StartSession(ctx, persistence.SessionStart{Session: session})
	return err
}

// StartSession validates every part of start before writing any of it.
func (s *Storage) StartSession(_ context.Context, start persistence.SessionStart) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := start.Session
	if start.Supersede != nil {
		if _, err := s.checkTransitionLocked(*start.Supersede); err != nil {
			return persistence.Session{}, err
		}
	}
	if err := s.checkSessionLocked(session, start.Supersede); err != nil {
		return persistence.Session{}, err
	}
	if err := s.checkRecordLocked(start.Sync); err != nil {
		return persistence.Session{}, err
	}

	if start.Supersede != nil {
		s.applyTransitionLocked(*start.Supersede)
	}
	if session.Version == 0 {
		session.Version = 1
	}
	s.sessions[session.ID] = cloneSession(session)
	if start.Sync != nil {
		s.records[start.Sync.LocalID] = cloneRecord(*start.Sync)
	}
	return cloneSession(session), nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(_ context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

// GetSessionByToken retrieves the session holding the given public token.
func (s *Storage) GetSessionByToken(_ context.Context, token string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	for _, session := range s.sessions {
		if session.PublicToken != nil && *session.PublicToken == token {
			return cloneSession(session), nil
		}
	}
	return persistence.Session{}, persistence.ErrNotFound
}

// FindOpenSession returns the contact's active or checked-in session.
func (s *Storage) FindOpenSession(_ context.Context, contactID string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.openSessionLocked(contactID)
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

// ListEvents returns the session's events ordered by server time, then sequence.
func (s *Storage) ListEvents(_ context.Context, sessionID string) ([]persistence.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, persistence.ErrNotFound
	}

	stored := s.events[sessionID]
	events := make([]persistence.SessionEvent, 0, len(stored))
	for _, ev := range stored {
		events = append(events, cloneEvent(ev))
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ServerTime.Equal(events[j].ServerTime) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].ServerTime.Before(events[j].ServerTime)
	})
	return events, nil
}

// ListSessionsByContact returns the contact's sessions ordered by creation time, newest first.
func (s *Storage) ListSessionsByContact(_ context.Context, contactID string, limit, offset int) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := []persistence.Session{}
	for _, session := range s.sessions {
		if session.ContactID == contactID {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(sessions) {
		return []persistence.Session{}, nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// CommitTransition appends the event and updates the session under the storage lock.
func (s *Storage) CommitTransition(_ context.Context, tr persistence.Transition) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.checkTransitionLocked(tr); err != nil {
		return persistence.Session{}, err
	}
	if err := s.checkRecordLocked(tr.Sync); err != nil {
		return persistence.Session{}, err
	}

	session := s.applyTransitionLocked(tr)
	if tr.Sync != nil {
		s.records[tr.Sync.LocalID] = cloneRecord(*tr.Sync)
	}
	return cloneSession(session), nil
}

func (s *Storage) checkTransitionLocked(tr persistence.Transition) (persistence.Session, error) {
	session, ok := s.sessions[tr.SessionID]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	if session.Version != tr.ExpectedVersion {
		return persistence.Session{}, fmt.Errorf("memory: session %s at version %d, expected %d: %w",
			session.ID, session.Version, tr.ExpectedVersion, persistence.ErrConflict)
	}
	for _, ev := range s.events[tr.SessionID] {
		if ev.ID == tr.Event.ID {
			return persistence.Session{}, fmt.Errorf("memory: event %s: %w", ev.ID, persistence.ErrDuplicate)
		}
		if ev.Seq == tr.Event.Seq || (isOnce(ev.Type) && ev.Type == tr.Event.Type) {
			return persistence.Session{}, fmt.Errorf("memory: %s for session %s: %w", tr.Event.Type, tr.SessionID, persistence.ErrDuplicate)
		}
	}
	if tr.PublicToken != nil && s.tokenTakenLocked(*tr.PublicToken, session.ID) {
		return persistence.Session{}, fmt.Errorf("memory: public token: %w", persistence.ErrDuplicate)
	}
	return session, nil
}

// applyTransitionLocked writes a transition that checkTransitionLocked accepted.
func (s *Storage) applyTransitionLocked(tr persistence.Transition) persistence.Session {
	session := s.sessions[tr.SessionID]
	session.Status = tr.Status
	session.IsComplete = tr.IsComplete
	if tr.PublicToken != nil {
		session.PublicToken = stringPtr(*tr.PublicToken)
		session.PublicTokenExpiresAt = timePtr(tr.PublicTokenExpiresAt)
	}
	session.Version++
	session.UpdatedAt = tr.UpdatedAt

	ev := cloneEvent(tr.Event)
	ev.SessionID = tr.SessionID
	s.events[tr.SessionID] = append(s.events[tr.SessionID], ev)
	s.sessions[session.ID] = session
	return session
}

// checkSessionLocked validates an insert. The open session that supersede ends does not
// count against the contact.
func (s *Storage) checkSessionLocked(session persistence.Session, supersede *persistence.Transition) error {
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("memory: session %s: %w", session.ID, persistence.ErrDuplicate)
	}
	if session.MeetingID != nil {
		if _, ok := s.meetings[*session.MeetingID]; !ok {
			return fmt.Errorf("memory: meeting %s: %w", *session.MeetingID, persistence.ErrNotFound)
		}
	}
	if isOpen(session.Status) {
		open, ok := s.openSessionLocked(session.ContactID)
		closing := supersede != nil && supersede.SessionID == open.ID && !isOpen(supersede.Status)
		if ok && !closing {
			return fmt.Errorf("memory: contact %s already has an open session: %w", session.ContactID, persistence.ErrDuplicate)
		}
	}
	if session.PublicToken != nil && s.tokenTakenLocked(*session.PublicToken, session.ID) {
		return fmt.Errorf("memory: public token: %w", persistence.ErrDuplicate)
	}
	return nil
}

func (s *Storage) checkRecordLocked(record *persistence.SyncRecord) error {
	if record == nil {
		return nil
	}
	if _, ok := s.records[record.LocalID]; ok {
		return fmt.Errorf("memory: sync record %s: %w", record.LocalID, persistence.ErrDuplicate)
	}
	return nil
}

// --- SyncRecordRepository implementation ---

// GetSyncRecord retrieves a sync record by local ID.
func (s *Storage) GetSyncRecord(_ context.Context, localID string) (persistence.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[localID]
	if !ok {
		return persistence.SyncRecord{}, persistence.ErrNotFound
	}
	return cloneRecord(record), nil
}

// FindSyncRecordBySessionRef resolves a client session reference.
func (s *Storage) FindSyncRecordBySessionRef(_ context.Context, itemType, sessionRef string) (persistence.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *persistence.SyncRecord
	for _, record := range s.records {
		if record.ItemType != itemType || record.SessionRef != sessionRef {
			continue
		}
		if found == nil || record.CreatedAt.Before(found.CreatedAt) {
			r := record
			found = &r
		}
	}
	if found == nil {
		return persistence.SyncRecord{}, persistence.ErrNotFound
	}
	return cloneRecord(*found), nil
}

// SaveSyncRecord stores a new sync record.
func (s *Storage) SaveSyncRecord(_ context.Context, record persistence.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRecordLocked(&record); err != nil {
		return err
	}
	s.records[record.LocalID] = cloneRecord(record)
	return nil
}

func (s *Storage) openSessionLocked(contactID string) (persistence.Session, bool) {
	for _, session := range s.sessions {
		if session.ContactID == contactID && isOpen(session.Status) {
			return session, true
		}
	}
	return persistence.Session{}, false
}

func (s *Storage) tokenTakenLocked(token, ownerID string) bool {
	for id, session := range s.sessions {
		if id != ownerID && session.PublicToken != nil && *session.PublicToken == token {
			return true
		}
	}
	return false
}

func isOpen(status string) bool {
	return status == "active" || status == "checked_in"
}

func isOnce(eventType string) bool {
	return eventType == "check_in" || eventType == "check_out"
}

func cloneSession(session persistence.Session) persistence.Session {
	clone := session
	clone.MeetingID = stringPtrFrom(session.MeetingID)
	clone.PublicToken = stringPtrFrom(session.PublicToken)
	clone.PublicTokenExpiresAt = timePtr(session.PublicTokenExpiresAt)
	return clone
}

func cloneEvent(ev persistence.SessionEvent) persistence.SessionEvent {
	clone := ev
	clone.ClientTime = timePtr(ev.ClientTime)
	clone.Lat = floatPtr(ev.Lat)
	clone.Lng = floatPtr(ev.Lng)
	clone.Accuracy = floatPtr(ev.Accuracy)
	clone.DistanceMeters = floatPtr(ev.DistanceMeters)
	clone.LocationFlag = stringPtrFrom(ev.LocationFlag)
	return clone
}

func cloneRecord(record persistence.SyncRecord) persistence.SyncRecord {
	clone := record
	clone.Result = bytes.Clone(record.Result)
	return clone
}
