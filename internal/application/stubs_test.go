package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/sharetoken"
)

// sessionRepoStub mirrors the repository contract closely enough to drive full transitions.
type sessionRepoStub struct {
	mu       sync.Mutex
	sessions map[string]Session
	events   map[string][]attendance.Event

	getErr    error
	startErr  error
	commitErr error
	commits   []SessionCommit
	starts    []SessionStart

	// syncs receives the sync records written together with starts and commits.
	syncs *syncRepoStub
}

func newSessionRepoStub() *sessionRepoStub {
	return &sessionRepoStub{
		sessions: make(map[string]Session),
		events:   make(map[string][]attendance.Event),
	}
}

func (r *sessionRepoStub) StartSession(ctx context.Context, start SessionStart) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return Session{}, r.startErr
	}
	session := start.Session
	if _, exists := r.sessions[session.ID]; exists {
		return Session{}, persistence.ErrDuplicate
	}
	for _, existing := range r.sessions {
		superseded := start.Supersede != nil && start.Supersede.SessionID == existing.ID
		if existing.ContactID == session.ContactID && existing.Status.Open() && !superseded {
			return Session{}, fmt.Errorf("open session %s: %w", existing.ID, persistence.ErrDuplicate)
		}
	}
	if start.Supersede != nil {
		if err := r.checkCommitLocked(*start.Supersede); err != nil {
			return Session{}, err
		}
	}
	if err := r.saveSyncLocked(ctx, start.Sync); err != nil {
		return Session{}, err
	}

	if start.Supersede != nil {
		r.applyCommitLocked(*start.Supersede)
	}
	r.sessions[session.ID] = session
	r.starts = append(r.starts, start)
	return session, nil
}

func (r *sessionRepoStub) GetSession(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return Session{}, r.getErr
	}
	session, ok := r.sessions[id]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (r *sessionRepoStub) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.PublicToken != nil && *session.PublicToken == token {
			return session, nil
		}
	}
	return Session{}, persistence.ErrNotFound
}

func (r *sessionRepoStub) FindOpenSession(ctx context.Context, contactID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.ContactID == contactID && session.Status.Open() {
			return session, nil
		}
	}
	return Session{}, persistence.ErrNotFound
}

func (r *sessionRepoStub) ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, session := range r.sessions {
		if session.ContactID == contactID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *sessionRepoStub) ListEvents(ctx context.Context, sessionID string) ([]attendance.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return nil, persistence.ErrNotFound
	}
	out := make([]attendance.Event, len(r.events[sessionID]))
	copy(out, r.events[sessionID])
	return out, nil
}

func (r *sessionRepoStub) CommitTransition(ctx context.Context, commit SessionCommit) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return Session{}, r.commitErr
	}
	if err := r.checkCommitLocked(commit); err != nil {
		return Session{}, err
	}
	if err := r.saveSyncLocked(ctx, commit.Sync); err != nil {
		return Session{}, err
	}
	return r.applyCommitLocked(commit), nil
}

func (r *sessionRepoStub) checkCommitLocked(commit SessionCommit) error {
	session, ok := r.sessions[commit.SessionID]
	if !ok {
		return persistence.ErrNotFound
	}
	if session.Version != commit.ExpectedVersion {
		return persistence.ErrConflict
	}
	if commit.Event.Type.Once() {
		for _, ev := range r.events[commit.SessionID] {
			if ev.Type == commit.Event.Type {
				return persistence.ErrDuplicate
			}
		}
	}
	return nil
}

func (r *sessionRepoStub) saveSyncLocked(ctx context.Context, record *SyncRecord) error {
	if record == nil || r.syncs == nil {
		return nil
	}
	return r.syncs.SaveSyncRecord(ctx, *record)
}

func (r *sessionRepoStub) applyCommitLocked(commit SessionCommit) Session {
	session := r.sessions[commit.SessionID]
	r.events[commit.SessionID] = append(r.events[commit.SessionID], commit.Event)
	session.Status = commit.Status
	session.IsComplete = commit.IsComplete
	if commit.PublicToken != nil {
		session.PublicToken = commit.PublicToken
		session.PublicTokenExpiresAt = commit.PublicTokenExpiresAt
	}
	session.Version++
	session.UpdatedAt = commit.UpdatedAt
	r.sessions[commit.SessionID] = session
	r.commits = append(r.commits, commit)
	return session
}

func (r *sessionRepoStub) eventsOf(sessionID string) []attendance.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]attendance.Event, len(r.events[sessionID]))
	copy(out, r.events[sessionID])
	return out
}

type meetingRepoStub struct {
	meetings  map[string]Meeting
	createErr error
	listErr   error
	created   []Meeting
	updated   []Meeting
}

func newMeetingRepoStub(meetings ...Meeting) *meetingRepoStub {
	stub := &meetingRepoStub{meetings: make(map[string]Meeting)}
	for _, m := range meetings {
		stub.meetings[m.ID] = m
	}
	return stub
}

func (r *meetingRepoStub) CreateMeeting(ctx context.Context, meeting Meeting) (Meeting, error) {
	if r.createErr != nil {
		return Meeting{}, r.createErr
	}
	if _, exists := r.meetings[meeting.ID]; exists {
		return Meeting{}, persistence.ErrDuplicate
	}
	r.meetings[meeting.ID] = meeting
	r.created = append(r.created, meeting)
	return meeting, nil
}

func (r *meetingRepoStub) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	meeting, ok := r.meetings[id]
	if !ok {
		return Meeting{}, persistence.ErrNotFound
	}
	return meeting, nil
}

func (r *meetingRepoStub) UpdateMeeting(ctx context.Context, meeting Meeting) (Meeting, error) {
	if _, ok := r.meetings[meeting.ID]; !ok {
		return Meeting{}, persistence.ErrNotFound
	}
	r.meetings[meeting.ID] = meeting
	r.updated = append(r.updated, meeting)
	return meeting, nil
}

func (r *meetingRepoStub) ListMeetings(ctx context.Context, activeOnly bool) ([]Meeting, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Meeting
	for _, m := range r.meetings {
		if activeOnly && !m.IsActive {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type syncRepoStub struct {
	mu      sync.Mutex
	records map[string]SyncRecord
	saveErr error
	// failSaves fails that many saves with saveErr before succeeding again.
	failSaves int
	saves     int
}

func newSyncRepoStub() *syncRepoStub {
	return &syncRepoStub{records: make(map[string]SyncRecord)}
}

func (r *syncRepoStub) GetSyncRecord(ctx context.Context, localID string) (SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[localID]
	if !ok {
		return SyncRecord{}, persistence.ErrNotFound
	}
	return record, nil
}

func (r *syncRepoStub) FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ItemType == itemType && record.SessionRef == sessionRef {
			return record, nil
		}
	}
	return SyncRecord{}, persistence.ErrNotFound
}

func (r *syncRepoStub) SaveSyncRecord(ctx context.Context, record SyncRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil && r.failSaves > 0 {
		r.failSaves--
		return r.saveErr
	}
	if _, exists := r.records[record.LocalID]; exists {
		return persistence.ErrDuplicate
	}
	r.records[record.LocalID] = record
	r.saves++
	return nil
}

type tokenIssuerStub struct {
	counter int
	ttl     time.Duration
	now     func() time.Time
	err     error
}

func (t *tokenIssuerStub) Issue() (sharetoken.Token, error) {
	if t.err != nil {
		return sharetoken.Token{}, t.err
	}
	t.counter++
	raw := make([]byte, sharetoken.ByteLength)
	raw[0] = byte(t.counter)
	return sharetoken.Token{
		Value:     encodeTestToken(raw),
		ExpiresAt: t.now().Add(t.ttl),
	}, nil
}

type notifierStub struct {
	mu          sync.Mutex
	completions []Completion
}

func (n *notifierStub) SessionCompleted(ctx context.Context, completion Completion) {
	n.mu.Lock()
	n.completions = append(n.completions, completion)
	n.mu.Unlock()
}

// testClock hands out a fixed instant that tests move explicitly.
type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

type sessionHarness struct {
	clock    *testClock
	sessions *sessionRepoStub
	meetings *meetingRepoStub
	syncs    *syncRepoStub
	tokens   *tokenIssuerStub
	notifier *notifierStub
	service  *SessionService
}

// Sacramento Convention Center, used by the 15 m / 500 m scenarios.
var convention = Meeting{
	ID:           "meeting-1",
	Name:         "Convention Center",
	Address:      "1400 J St, Sacramento, CA",
	Latitude:     38.5816,
	Longitude:    -121.4944,
	RadiusMeters: 100,
	IsActive:     true,
}

func newSessionHarness(meetings ...Meeting) *sessionHarness {
	clock := newTestClock()
	syncs := newSyncRepoStub()
	sessions := newSessionRepoStub()
	sessions.syncs = syncs
	h := &sessionHarness{
		clock:    clock,
		sessions: sessions,
		meetings: newMeetingRepoStub(meetings...),
		syncs:    syncs,
		tokens:   &tokenIssuerStub{ttl: 30 * 24 * time.Hour, now: clock.Now},
		notifier: &notifierStub{},
	}
	h.service = NewSessionServiceWithLogger(h.sessions, h.meetings, h.tokens, h.notifier, sequentialIDs("id"), clock.Now, 100, nil)
	return h
}

func (h *sessionHarness) start(contactID string) Session {
	meetingID := convention.ID
	session, err := h.service.CreateSession(context.Background(), CreateSessionParams{ContactID: contactID, MeetingID: &meetingID})
	if err != nil {
		panic(fmt.Sprintf("start session: %v", err))
	}
	return session
}

func encodeTestToken(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
