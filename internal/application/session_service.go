package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/sharetoken"
	"github.com/example/attendance-attest/internal/verification"
)

// DefaultRadiusMeters applies to sessions started without a meeting when no radius is configured.
const DefaultRadiusMeters = 100.0

// History paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// SessionRepository captures the persistence operations needed by the session service.
type SessionRepository interface {
	StartSession(ctx context.Context, start SessionStart) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	FindOpenSession(ctx context.Context, contactID string) (Session, error)
	ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]Session, error)
	ListEvents(ctx context.Context, sessionID string) ([]attendance.Event, error)
	CommitTransition(ctx context.Context, commit SessionCommit) (Session, error)
}

// TokenIssuer issues public share tokens for completed sessions.
type TokenIssuer interface {
	Issue() (sharetoken.Token, error)
}

// CompletionNotifier receives completed sessions after their check-out commits.
// Implementations must not block.
type CompletionNotifier interface {
	SessionCompleted(ctx context.Context, completion Completion)
}

// SessionService runs session transitions. Operations on one session are serialised in
// process and guarded by an optimistic version check in the repository.
type SessionService struct {
	sessions      SessionRepository
	meetings      MeetingRepository
	tokens        TokenIssuer
	notifier      CompletionNotifier
	idGenerator   func() string
	now           func() time.Time
	defaultRadius float64
	locks         *keyedMutex
	summaries     *summaryCache
	logger        *slog.Logger
}

// NewSessionService constructs a session service with the provided dependencies.
func NewSessionService(sessions SessionRepository, meetings MeetingRepository, tokens TokenIssuer, idGenerator func() string, now func() time.Time) *SessionService {
	return NewSessionServiceWithLogger(sessions, meetings, tokens, nil, idGenerator, now, DefaultRadiusMeters, nil)
}

// NewSessionServiceWithLogger constructs a session service with a notifier, default radius and logger.
func NewSessionServiceWithLogger(
	sessions SessionRepository,
	meetings MeetingRepository,
	tokens TokenIssuer,
	notifier CompletionNotifier,
	idGenerator func() string,
	now func() time.Time,
	defaultRadius float64,
	logger *slog.Logger,
) *SessionService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if !(defaultRadius > 0) {
		defaultRadius = DefaultRadiusMeters
	}
	return &SessionService{
		sessions:      sessions,
		meetings:      meetings,
		tokens:        tokens,
		notifier:      notifier,
		idGenerator:   idGenerator,
		now:           now,
		defaultRadius: defaultRadius,
		locks:         newKeyedMutex(),
		summaries:     newSummaryCache(time.Minute, 512, now),
		logger:        defaultLogger(logger),
	}
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

// CreateSession starts a session in the active state. A contact holds at most one open
// session, so any open session of the contact is ended in the same write.
func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session repository not configured")
		return
	}

	params.ContactID = strings.TrimSpace(params.ContactID)
	params.MeetingID = normalizeOptionalID(params.MeetingID)

	logger := s.loggerWith(ctx, "CreateSession", "contact_id", params.ContactID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID, "meeting_id", derefString(session.MeetingID)).InfoContext(ctx, "session created")
	}()

	vErr := validateCreateSession(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var dest Destination
	dest, err = s.resolveDestination(ctx, params)
	if err != nil {
		return
	}

	unlock := s.locks.Lock(contactKey(params.ContactID))
	defer unlock()

	id := s.idGenerator()
	now := s.now()
	start := SessionStart{Session: Session{
		ID:          id,
		ContactID:   params.ContactID,
		MeetingID:   params.MeetingID,
		Status:      attendance.StatusActive,
		Destination: dest,
		Notes:       normalizeText(params.Notes),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	if params.Sync != nil {
		start.Sync, err = newSyncRecord(*params.Sync, id, id, now)
		if err != nil {
			return
		}
	}

	var release func()
	start.Supersede, release, err = s.supersedeCommit(ctx, params.ContactID, id)
	defer release()
	if err != nil {
		return
	}

	session, err = s.sessions.StartSession(ctx, start)
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}
	if start.Supersede != nil {
		logger.InfoContext(ctx, "open session superseded", "superseded_session_id", start.Supersede.SessionID)
	}
	return
}

// CheckIn verifies the sample and records the session's check-in. Retrying a recorded
// check-in returns the stored event with Duplicate set.
func (s *SessionService) CheckIn(ctx context.Context, params LocationParams) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckIn", "session_id", params.SessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"event_id", result.Event.ID,
			"location_flag", result.Outcome.Flag,
			"duplicate", result.Duplicate,
		).InfoContext(ctx, "session checked in")
	}()

	if err = validateLocationParams(params); err != nil {
		return
	}

	input := s.locationInput(params)
	result, err = s.apply(ctx, params.SessionID, params.Sync, func(m *attendance.Machine, now time.Time) (attendance.Transition, error) {
		return m.CheckIn(input, now)
	})
	return
}

// CheckOut verifies the sample, records the check-out and completes the session. The
// completed session receives a public share token. A completed session is immutable, so
// checking it out again fails with attendance.ErrSessionAlreadyComplete.
func (s *SessionService) CheckOut(ctx context.Context, params LocationParams) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckOut", "session_id", params.SessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check out", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"event_id", result.Event.ID,
			"location_flag", result.Outcome.Flag,
			"duration_minutes", derefInt(result.DurationMinutes),
			"duplicate", result.Duplicate,
		).InfoContext(ctx, "session checked out")
	}()

	if err = validateLocationParams(params); err != nil {
		return
	}

	input := s.locationInput(params)
	result, err = s.apply(ctx, params.SessionID, params.Sync, func(m *attendance.Machine, now time.Time) (attendance.Transition, error) {
		return m.CheckOut(input, now)
	})
	return
}

// RecordLocation appends a location update without changing the session status.
func (s *SessionService) RecordLocation(ctx context.Context, params LocationParams) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RecordLocation", "session_id", params.SessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record location", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", result.Event.ID, "location_flag", result.Outcome.Flag).DebugContext(ctx, "location recorded")
	}()

	if err = validateLocationParams(params); err != nil {
		return
	}

	input := s.locationInput(params)
	result, err = s.apply(ctx, params.SessionID, params.Sync, func(m *attendance.Machine, now time.Time) (attendance.Transition, error) {
		return m.RecordLocation(input, now)
	})
	return
}

// EndSession moves an open session to ended without a check-out.
func (s *SessionService) EndSession(ctx context.Context, params EndSessionParams) (result TransitionResult, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "EndSession", "session_id", params.SessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to end session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", result.Event.ID).InfoContext(ctx, "session ended")
	}()

	params.SessionID = strings.TrimSpace(params.SessionID)
	if params.SessionID == "" {
		vErr := &ValidationError{}
		vErr.add("session_id", "session id is required")
		err = vErr
		return
	}

	reason := normalizeText(params.Reason)
	if reason == "" {
		reason = "ended by client"
	}
	result, err = s.apply(ctx, params.SessionID, params.Sync, func(m *attendance.Machine, now time.Time) (attendance.Transition, error) {
		return m.End(s.idGenerator(), reason, params.ClientTime, now)
	})
	return
}

// GetSession returns the session and its events ordered by server time.
func (s *SessionService) GetSession(ctx context.Context, id string) (SessionDetail, error) {
	if s == nil {
		return SessionDetail{}, fmt.Errorf("SessionService is nil")
	}
	if s.sessions == nil {
		return SessionDetail{}, fmt.Errorf("session repository not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionDetail{}, ErrNotFound
	}

	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return SessionDetail{}, mapSessionRepoError(err)
	}
	return s.detail(ctx, session)
}

// ActiveSession returns the contact's open session.
func (s *SessionService) ActiveSession(ctx context.Context, contactID string) (SessionDetail, error) {
	if s == nil {
		return SessionDetail{}, fmt.Errorf("SessionService is nil")
	}
	if s.sessions == nil {
		return SessionDetail{}, fmt.Errorf("session repository not configured")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return SessionDetail{}, ErrNotFound
	}

	session, err := s.sessions.FindOpenSession(ctx, contactID)
	if err != nil {
		return SessionDetail{}, mapSessionRepoError(err)
	}
	return s.detail(ctx, session)
}

// History lists the contact's sessions newest first. A zero limit selects DefaultHistoryLimit.
func (s *SessionService) History(ctx context.Context, params HistoryParams) (page SessionPage, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session repository not configured")
		return
	}

	params.ContactID = strings.TrimSpace(params.ContactID)
	if params.Limit == 0 {
		params.Limit = DefaultHistoryLimit
	}

	logger := s.loggerWith(ctx, "History", "contact_id", params.ContactID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list session history", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(page.Sessions), "offset", page.Offset).DebugContext(ctx, "session history listed")
	}()

	vErr := &ValidationError{}
	if params.ContactID == "" {
		vErr.add("contact_id", "contact id is required")
	}
	if params.Limit < 0 || params.Limit > MaxHistoryLimit {
		vErr.add("limit", fmt.Sprintf("limit must be between 1 and %d", MaxHistoryLimit))
	}
	if params.Offset < 0 {
		vErr.add("offset", "offset must be zero or positive")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var sessions []Session
	sessions, err = s.sessions.ListSessionsByContact(ctx, params.ContactID, params.Limit, params.Offset)
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	page = SessionPage{Sessions: sessions, Limit: params.Limit, Offset: params.Offset}
	return
}

// PublicSummary resolves a share token to the redacted summary of its completed session.
// Unknown, malformed and expired tokens all report ErrNotFound.
func (s *SessionService) PublicSummary(ctx context.Context, token string) (summary PublicSummary, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session repository not configured")
		return
	}
	if sharetoken.Parse(token) != nil {
		err = ErrNotFound
		return
	}
	if cached, ok := s.summaries.Get(token); ok {
		return cached, nil
	}

	var session Session
	session, err = s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}
	if session.Status != attendance.StatusCompleted || session.PublicTokenExpiresAt == nil ||
		!s.now().Before(*session.PublicTokenExpiresAt) {
		err = ErrNotFound
		return
	}

	var detail SessionDetail
	detail, err = s.detail(ctx, session)
	if err != nil {
		return
	}
	summary = buildPublicSummary(detail)
	s.summaries.Store(token, summary)
	return
}

type preparedTransition struct {
	result TransitionResult
	commit SessionCommit
	ledger *attendance.Ledger
	tr     attendance.Transition
}

// apply runs one machine step under the session lock and commits it. When intent is set the
// item's sync record is written by the same commit.
func (s *SessionService) apply(ctx context.Context, sessionID string, intent *SyncIntent, step func(*attendance.Machine, time.Time) (attendance.Transition, error)) (TransitionResult, error) {
	if s.sessions == nil {
		return TransitionResult{}, fmt.Errorf("session repository not configured")
	}
	sessionID = strings.TrimSpace(sessionID)

	unlock := s.locks.Lock(sessionKey(sessionID))
	defer unlock()

	p, err := s.prepare(ctx, sessionID, step)
	if err != nil {
		return TransitionResult{}, err
	}
	if p.tr.Duplicate {
		return p.result, nil
	}
	if intent != nil {
		p.commit.Sync, err = newSyncRecord(*intent, sessionID, p.tr.Event.ID, p.commit.UpdatedAt)
		if err != nil {
			return TransitionResult{}, err
		}
	}

	updated, err := s.sessions.CommitTransition(ctx, p.commit)
	if err != nil {
		return TransitionResult{}, mapSessionRepoError(err)
	}
	result := p.result
	result.Session = updated

	if p.tr.Completed() {
		s.publishCompletion(ctx, updated, p.ledger, p.tr)
	}
	return result, nil
}

// prepare loads the session, runs one machine step and builds the commit for it. Callers
// hold the session lock.
func (s *SessionService) prepare(ctx context.Context, sessionID string, step func(*attendance.Machine, time.Time) (attendance.Transition, error)) (preparedTransition, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return preparedTransition{}, mapSessionRepoError(err)
	}
	events, err := s.sessions.ListEvents(ctx, sessionID)
	if err != nil {
		return preparedTransition{}, mapSessionRepoError(err)
	}
	ledger, err := attendance.NewLedger(sessionID, events)
	if err != nil {
		return preparedTransition{}, err
	}
	machine, err := attendance.NewMachine(session.Status, session.Destination.verification(), ledger)
	if err != nil {
		return preparedTransition{}, err
	}

	now := s.now()
	tr, err := step(machine, now)
	if err != nil {
		return preparedTransition{}, err
	}

	p := preparedTransition{
		result: TransitionResult{
			Session:         session,
			Event:           tr.Event,
			Outcome:         tr.Outcome,
			Duplicate:       tr.Duplicate,
			DurationMinutes: tr.DurationMinutes,
		},
		ledger: ledger,
		tr:     tr,
	}
	if tr.Duplicate {
		return p, nil
	}

	p.commit = SessionCommit{
		SessionID:       sessionID,
		ExpectedVersion: session.Version,
		Status:          tr.To,
		IsComplete:      tr.To == attendance.StatusCompleted,
		UpdatedAt:       now,
		Event:           tr.Event,
	}
	if tr.Completed() && s.tokens != nil {
		token, err := s.tokens.Issue()
		if err != nil {
			return preparedTransition{}, fmt.Errorf("issue share token: %w", err)
		}
		p.commit.PublicToken = &token.Value
		p.commit.PublicTokenExpiresAt = &token.ExpiresAt
	}
	return p, nil
}

// supersedeCommit builds the transition that ends the contact's open session, if any.
// Callers hold the contact lock. The open session stays locked until release is called,
// which is never nil.
func (s *SessionService) supersedeCommit(ctx context.Context, contactID, nextID string) (*SessionCommit, func(), error) {
	release := func() {}
	open, err := s.sessions.FindOpenSession(ctx, contactID)
	if err != nil {
		if errors.Is(mapSessionRepoError(err), ErrNotFound) {
			return nil, release, nil
		}
		return nil, release, mapSessionRepoError(err)
	}

	unlock := s.locks.Lock(sessionKey(open.ID))
	reason := "superseded by session " + nextID
	p, err := s.prepare(ctx, open.ID, func(m *attendance.Machine, now time.Time) (attendance.Transition, error) {
		return m.End(s.idGenerator(), reason, now, now)
	})
	if errors.Is(err, attendance.ErrSessionEnded) || errors.Is(err, attendance.ErrSessionAlreadyComplete) {
		unlock()
		return nil, release, nil
	}
	if err != nil {
		unlock()
		return nil, release, fmt.Errorf("end open session %s: %w", open.ID, err)
	}
	return &p.commit, unlock, nil
}

func (s *SessionService) resolveDestination(ctx context.Context, params CreateSessionParams) (Destination, error) {
	if params.MeetingID == nil {
		return Destination{
			Name:         normalizeText(params.DestName),
			Address:      normalizeText(params.DestAddress),
			Latitude:     *params.DestLat,
			Longitude:    *params.DestLng,
			RadiusMeters: s.defaultRadius,
		}, nil
	}

	if s.meetings == nil {
		return Destination{}, fmt.Errorf("meeting repository not configured")
	}
	meeting, err := s.meetings.GetMeeting(ctx, *params.MeetingID)
	if err != nil {
		err = mapMeetingRepoError(err)
		if errors.Is(err, ErrNotFound) {
			vErr := &ValidationError{}
			vErr.add("meeting_id", "meeting not found")
			return Destination{}, vErr
		}
		return Destination{}, err
	}
	if !meeting.IsActive {
		return Destination{}, ErrMeetingInactive
	}

	radius := meeting.RadiusMeters
	if !(radius > 0) {
		radius = s.defaultRadius
	}
	return Destination{
		Name:         meeting.Name,
		Address:      meeting.Address,
		Latitude:     meeting.Latitude,
		Longitude:    meeting.Longitude,
		RadiusMeters: radius,
	}, nil
}

func (s *SessionService) detail(ctx context.Context, session Session) (SessionDetail, error) {
	events, err := s.sessions.ListEvents(ctx, session.ID)
	if err != nil {
		return SessionDetail{}, mapSessionRepoError(err)
	}
	ledger, err := attendance.NewLedger(session.ID, events)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: session, Events: ledger.Events()}, nil
}

func (s *SessionService) locationInput(params LocationParams) attendance.Input {
	return attendance.Input{
		EventID: s.idGenerator(),
		Sample: verification.Sample{
			Lat:       params.Latitude,
			Lng:       params.Longitude,
			Accuracy:  params.Accuracy,
			Timestamp: params.ClientTime,
			Timeout:   params.Timeout,
		},
		Notes: normalizeText(params.Notes),
	}
}

func (s *SessionService) publishCompletion(ctx context.Context, session Session, ledger *attendance.Ledger, tr attendance.Transition) {
	if s.notifier == nil {
		return
	}
	checkIn, _ := ledger.Find(attendance.EventCheckIn)
	completion := Completion{
		SessionID:    session.ID,
		ContactID:    session.ContactID,
		MeetingID:    session.MeetingID,
		DestName:     session.Destination.Name,
		CheckInAt:    checkIn.ServerTime,
		CheckOutAt:   tr.Event.ServerTime,
		CheckInFlag:  checkIn.LocationFlag,
		CheckOutFlag: tr.Event.LocationFlag,
	}
	if tr.DurationMinutes != nil {
		completion.DurationMinutes = *tr.DurationMinutes
	}
	if session.PublicToken != nil {
		completion.PublicToken = *session.PublicToken
	}
	s.notifier.SessionCompleted(ctx, completion)
}

func buildPublicSummary(detail SessionDetail) PublicSummary {
	session := detail.Session
	summary := PublicSummary{
		SessionID:   session.ID,
		DestName:    session.Destination.Name,
		DestAddress: session.Destination.Address,
		Status:      session.Status,
		Events:      make([]PublicEvent, 0, len(detail.Events)),
	}
	if session.PublicTokenExpiresAt != nil {
		summary.ExpiresAt = *session.PublicTokenExpiresAt
	}

	for _, ev := range detail.Events {
		summary.Events = append(summary.Events, PublicEvent{
			Type:           ev.Type,
			ServerTime:     ev.ServerTime,
			LocationFlag:   ev.LocationFlag,
			DistanceMeters: ev.DistanceMeters,
		})
		switch ev.Type {
		case attendance.EventCheckIn:
			at := ev.ServerTime
			summary.CheckInAt = &at
			summary.CheckInFlag = ev.LocationFlag
		case attendance.EventCheckOut:
			at := ev.ServerTime
			summary.CheckOutAt = &at
			summary.CheckOutFlag = ev.LocationFlag
		}
	}
	if summary.CheckInAt != nil && summary.CheckOutAt != nil {
		minutes := attendance.DurationMinutes(*summary.CheckInAt, *summary.CheckOutAt)
		summary.DurationMinutes = &minutes
	}
	return summary
}

func validateCreateSession(params CreateSessionParams) *ValidationError {
	vErr := &ValidationError{}

	if params.ContactID == "" {
		vErr.add("contact_id", "contact id is required")
	}
	if params.MeetingID != nil {
		return vErr
	}

	if normalizeText(params.DestName) == "" {
		vErr.add("dest_name", "destination name is required without a meeting")
	}
	switch {
	case params.DestLat == nil:
		vErr.add("dest_lat", "destination latitude is required without a meeting")
	case params.DestLng == nil:
		vErr.add("dest_lng", "destination longitude is required without a meeting")
	default:
		vErr.merge("", validateCoordinate("dest_lat", "dest_lng", *params.DestLat, *params.DestLng))
	}
	return vErr
}

func validateLocationParams(params LocationParams) error {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.SessionID) == "" {
		vErr.add("session_id", "session id is required")
	}
	if params.Accuracy != nil && !(*params.Accuracy >= 0) {
		vErr.add("accuracy", "accuracy must be zero or positive")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func mapSessionRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	case errors.Is(err, persistence.ErrDuplicate):
		// A second writer recorded the same once-only event, opened a session for the contact
		// or recorded the same offline item.
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

func sessionKey(id string) string {
	return "session:" + id
}

func contactKey(id string) string {
	return "contact:" + id
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefInt(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
