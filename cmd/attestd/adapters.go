package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/notify"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/verification"
)

type meetingRepositoryAdapter struct {
	repo persistence.MeetingRepository
}

func newMeetingRepositoryAdapter(repo persistence.MeetingRepository) *meetingRepositoryAdapter {
	return &meetingRepositoryAdapter{repo: repo}
}

func (a *meetingRepositoryAdapter) CreateMeeting(ctx context.Context, meeting application.Meeting) (application.Meeting, error) {
	if err := a.repo.CreateMeeting(ctx, toPersistenceMeeting(meeting)); err != nil {
		return application.Meeting{}, err
	}
	stored, err := a.repo.GetMeeting(ctx, meeting.ID)
	if err != nil {
		return application.Meeting{}, err
	}
	return toApplicationMeeting(stored), nil
}

func (a *meetingRepositoryAdapter) GetMeeting(ctx context.Context, id string) (application.Meeting, error) {
	stored, err := a.repo.GetMeeting(ctx, id)
	if err != nil {
		return application.Meeting{}, err
	}
	return toApplicationMeeting(stored), nil
}

func (a *meetingRepositoryAdapter) UpdateMeeting(ctx context.Context, meeting application.Meeting) (application.Meeting, error) {
	if err := a.repo.UpdateMeeting(ctx, toPersistenceMeeting(meeting)); err != nil {
		return application.Meeting{}, err
	}
	stored, err := a.repo.GetMeeting(ctx, meeting.ID)
	if err != nil {
		return application.Meeting{}, err
	}
	return toApplicationMeeting(stored), nil
}

func (a *meetingRepositoryAdapter) ListMeetings(ctx context.Context, activeOnly bool) ([]application.Meeting, error) {
	models, err := a.repo.ListMeetings(ctx, persistence.MeetingFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	meetings := make([]application.Meeting, 0, len(models))
	for _, model := range models {
		meetings = append(meetings, toApplicationMeeting(model))
	}
	return meetings, nil
}

type sessionRepositoryAdapter struct {
	repo persistence.SessionRepository
}

func newSessionRepositoryAdapter(repo persistence.SessionRepository) *sessionRepositoryAdapter {
	return &sessionRepositoryAdapter{repo: repo}
}

func (a *sessionRepositoryAdapter) StartSession(ctx context.Context, start application.SessionStart) (application.Session, error) {
	model := persistence.SessionStart{
		Session: toPersistenceSession(start.Session),
		Sync:    toPersistenceSyncRecord(start.Sync),
	}
	if start.Supersede != nil {
		tr := toPersistenceTransition(*start.Supersede)
		model.Supersede = &tr
	}
	stored, err := a.repo.StartSession(ctx, model)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a *sessionRepositoryAdapter) ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]application.Session, error) {
	models, err := a.repo.ListSessionsByContact(ctx, contactID, limit, offset)
	if err != nil {
		return nil, err
	}
	sessions := make([]application.Session, 0, len(models))
	for _, model := range models {
		session, err := toApplicationSession(model)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (a *sessionRepositoryAdapter) GetSession(ctx context.Context, id string) (application.Session, error) {
	stored, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a *sessionRepositoryAdapter) GetSessionByToken(ctx context.Context, token string) (application.Session, error) {
	stored, err := a.repo.GetSessionByToken(ctx, token)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a *sessionRepositoryAdapter) FindOpenSession(ctx context.Context, contactID string) (application.Session, error) {
	stored, err := a.repo.FindOpenSession(ctx, contactID)
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

func (a *sessionRepositoryAdapter) ListEvents(ctx context.Context, sessionID string) ([]attendance.Event, error) {
	models, err := a.repo.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events := make([]attendance.Event, 0, len(models))
	for _, model := range models {
		ev, err := toApplicationEvent(model)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (a *sessionRepositoryAdapter) CommitTransition(ctx context.Context, commit application.SessionCommit) (application.Session, error) {
	stored, err := a.repo.CommitTransition(ctx, toPersistenceTransition(commit))
	if err != nil {
		return application.Session{}, err
	}
	return toApplicationSession(stored)
}

type syncRecordRepositoryAdapter struct {
	repo persistence.SyncRecordRepository
}

func newSyncRecordRepositoryAdapter(repo persistence.SyncRecordRepository) *syncRecordRepositoryAdapter {
	return &syncRecordRepositoryAdapter{repo: repo}
}

func (a *syncRecordRepositoryAdapter) GetSyncRecord(ctx context.Context, localID string) (application.SyncRecord, error) {
	stored, err := a.repo.GetSyncRecord(ctx, localID)
	if err != nil {
		return application.SyncRecord{}, err
	}
	return application.SyncRecord(stored), nil
}

func (a *syncRecordRepositoryAdapter) FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (application.SyncRecord, error) {
	stored, err := a.repo.FindSyncRecordBySessionRef(ctx, itemType, sessionRef)
	if err != nil {
		return application.SyncRecord{}, err
	}
	return application.SyncRecord(stored), nil
}

func (a *syncRecordRepositoryAdapter) SaveSyncRecord(ctx context.Context, record application.SyncRecord) error {
	return a.repo.SaveSyncRecord(ctx, persistence.SyncRecord(record))
}

// completionNotifier hands completions to the dispatcher without blocking the request.
type completionNotifier struct {
	dispatcher *notify.Dispatcher
	now        func() time.Time
	logger     *slog.Logger
}

func newCompletionNotifier(dispatcher *notify.Dispatcher, now func() time.Time, logger *slog.Logger) *completionNotifier {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &completionNotifier{dispatcher: dispatcher, now: now, logger: logger}
}

func (n *completionNotifier) SessionCompleted(ctx context.Context, completion application.Completion) {
	if n == nil || n.dispatcher == nil {
		return
	}
	if err := n.dispatcher.Enqueue(toNotifyMessage(completion, n.now())); err != nil {
		n.logger.WarnContext(ctx, "completion not queued", "session_id", completion.SessionID, "error", err)
	}
}

func toNotifyMessage(completion application.Completion, occurredAt time.Time) notify.Message {
	return notify.Message{
		Kind:            notify.KindSessionCompleted,
		SessionID:       completion.SessionID,
		ContactID:       completion.ContactID,
		MeetingID:       cloneString(completion.MeetingID),
		DestName:        completion.DestName,
		CheckInAt:       completion.CheckInAt.UTC(),
		CheckOutAt:      completion.CheckOutAt.UTC(),
		DurationMinutes: completion.DurationMinutes,
		CheckInFlag:     string(completion.CheckInFlag),
		CheckOutFlag:    string(completion.CheckOutFlag),
		PublicToken:     completion.PublicToken,
		OccurredAt:      occurredAt.UTC(),
	}
}

func toApplicationMeeting(model persistence.Meeting) application.Meeting {
	return application.Meeting(model)
}

func toPersistenceMeeting(meeting application.Meeting) persistence.Meeting {
	return persistence.Meeting(meeting)
}

func toApplicationSession(model persistence.Session) (application.Session, error) {
	status, err := attendance.ParseStatus(model.Status)
	if err != nil {
		return application.Session{}, fmt.Errorf("session %s: %w", model.ID, err)
	}
	return application.Session{
		ID:        model.ID,
		ContactID: model.ContactID,
		MeetingID: cloneString(model.MeetingID),
		Status:    status,
		Destination: application.Destination{
			Name:         model.DestName,
			Address:      model.DestAddress,
			Latitude:     model.DestLat,
			Longitude:    model.DestLng,
			RadiusMeters: model.DestRadiusMeters,
		},
		Notes:                model.Notes,
		IsComplete:           model.IsComplete,
		PublicToken:          cloneString(model.PublicToken),
		PublicTokenExpiresAt: cloneTime(model.PublicTokenExpiresAt),
		Version:              model.Version,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}, nil
}

func toPersistenceSession(session application.Session) persistence.Session {
	return persistence.Session{
		ID:                   session.ID,
		ContactID:            session.ContactID,
		MeetingID:            cloneString(session.MeetingID),
		Status:               string(session.Status),
		DestName:             session.Destination.Name,
		DestAddress:          session.Destination.Address,
		DestLat:              session.Destination.Latitude,
		DestLng:              session.Destination.Longitude,
		DestRadiusMeters:     session.Destination.RadiusMeters,
		Notes:                session.Notes,
		IsComplete:           session.IsComplete,
		PublicToken:          cloneString(session.PublicToken),
		PublicTokenExpiresAt: cloneTime(session.PublicTokenExpiresAt),
		Version:              session.Version,
		CreatedAt:            session.CreatedAt,
		UpdatedAt:            session.UpdatedAt,
	}
}

func toApplicationEvent(model persistence.SessionEvent) (attendance.Event, error) {
	eventType := attendance.EventType(model.Type)
	if !eventType.Valid() {
		return attendance.Event{}, fmt.Errorf("event %s: %w", model.ID, attendance.ErrUnknownEventType)
	}
	ev := attendance.Event{
		ID:             model.ID,
		SessionID:      model.SessionID,
		Seq:            model.Seq,
		Type:           eventType,
		ServerTime:     model.ServerTime,
		Lat:            cloneFloat(model.Lat),
		Lng:            cloneFloat(model.Lng),
		Accuracy:       cloneFloat(model.Accuracy),
		DistanceMeters: cloneFloat(model.DistanceMeters),
		Notes:          model.Notes,
	}
	if model.ClientTime != nil {
		ev.ClientTime = *model.ClientTime
	}
	if model.LocationFlag != nil {
		ev.LocationFlag = verification.Flag(*model.LocationFlag)
	}
	return ev, nil
}

func toPersistenceEvent(ev attendance.Event) persistence.SessionEvent {
	model := persistence.SessionEvent{
		ID:             ev.ID,
		SessionID:      ev.SessionID,
		Seq:            ev.Seq,
		Type:           string(ev.Type),
		ServerTime:     ev.ServerTime,
		Lat:            cloneFloat(ev.Lat),
		Lng:            cloneFloat(ev.Lng),
		Accuracy:       cloneFloat(ev.Accuracy),
		DistanceMeters: cloneFloat(ev.DistanceMeters),
		Notes:          ev.Notes,
	}
	if !ev.ClientTime.IsZero() {
		client := ev.ClientTime
		model.ClientTime = &client
	}
	if ev.LocationFlag != "" {
		flag := string(ev.LocationFlag)
		model.LocationFlag = &flag
	}
	return model
}

func toPersistenceTransition(commit application.SessionCommit) persistence.Transition {
	return persistence.Transition{
		SessionID:            commit.SessionID,
		ExpectedVersion:      commit.ExpectedVersion,
		Status:               string(commit.Status),
		IsComplete:           commit.IsComplete,
		PublicToken:          cloneString(commit.PublicToken),
		PublicTokenExpiresAt: cloneTime(commit.PublicTokenExpiresAt),
		UpdatedAt:            commit.UpdatedAt,
		Event:                toPersistenceEvent(commit.Event),
		Sync:                 toPersistenceSyncRecord(commit.Sync),
	}
}

func toPersistenceSyncRecord(record *application.SyncRecord) *persistence.SyncRecord {
	if record == nil {
		return nil
	}
	model := persistence.SyncRecord(*record)
	return &model
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
