package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/attendance"
	"github.com/example/attendance-attest/internal/verification"
)

var fixedTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSessionService struct {
	createParams   application.CreateSessionParams
	locationParams application.LocationParams
	endParams      application.EndSessionParams
	historyParams  application.HistoryParams
	lastOperation  string
	requestedID    string

	session    application.Session
	detail     application.SessionDetail
	page       application.SessionPage
	transition application.TransitionResult
	summary    application.PublicSummary
	err        error
}

func (f *fakeSessionService) CreateSession(ctx context.Context, params application.CreateSessionParams) (application.Session, error) {
	f.lastOperation = "create"
	f.createParams = params
	return f.session, f.err
}

func (f *fakeSessionService) CheckIn(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
	f.lastOperation = "check_in"
	f.locationParams = params
	return f.transition, f.err
}

func (f *fakeSessionService) CheckOut(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
	f.lastOperation = "check_out"
	f.locationParams = params
	return f.transition, f.err
}

func (f *fakeSessionService) RecordLocation(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
	f.lastOperation = "location"
	f.locationParams = params
	return f.transition, f.err
}

func (f *fakeSessionService) EndSession(ctx context.Context, params application.EndSessionParams) (application.TransitionResult, error) {
	f.lastOperation = "end"
	f.endParams = params
	return f.transition, f.err
}

func (f *fakeSessionService) GetSession(ctx context.Context, id string) (application.SessionDetail, error) {
	f.lastOperation = "get"
	f.requestedID = id
	return f.detail, f.err
}

func (f *fakeSessionService) ActiveSession(ctx context.Context, contactID string) (application.SessionDetail, error) {
	f.lastOperation = "active"
	f.requestedID = contactID
	return f.detail, f.err
}

func (f *fakeSessionService) History(ctx context.Context, params application.HistoryParams) (application.SessionPage, error) {
	f.lastOperation = "history"
	f.historyParams = params
	return f.page, f.err
}

func (f *fakeSessionService) PublicSummary(ctx context.Context, token string) (application.PublicSummary, error) {
	f.lastOperation = "public"
	f.requestedID = token
	return f.summary, f.err
}

type fakeReconciler struct {
	batch  []application.OfflineItem
	report application.SyncReport
	err    error
	calls  int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, batch []application.OfflineItem) (application.SyncReport, error) {
	f.calls++
	f.batch = batch
	return f.report, f.err
}

type fakeMeetingService struct {
	input      application.MeetingInput
	activeOnly bool
	meeting    application.Meeting
	meetings   []application.Meeting
	err        error
}

func (f *fakeMeetingService) CreateMeeting(ctx context.Context, input application.MeetingInput) (application.Meeting, error) {
	f.input = input
	return f.meeting, f.err
}

func (f *fakeMeetingService) GetMeeting(ctx context.Context, id string) (application.Meeting, error) {
	f.input.ID = id
	return f.meeting, f.err
}

func (f *fakeMeetingService) ListMeetings(ctx context.Context, activeOnly bool) ([]application.Meeting, error) {
	f.activeOnly = activeOnly
	return f.meetings, f.err
}

func newTestRouter(sessions *fakeSessionService, rec *fakeReconciler, meetings *fakeMeetingService) http.Handler {
	cfg := RouterConfig{}
	if sessions != nil {
		cfg.Sessions = NewSessionHandler(sessions, nil)
		cfg.Public = NewPublicHandler(sessions, nil)
	}
	if rec != nil {
		cfg.Offline = NewOfflineHandler(rec, nil)
	}
	if meetings != nil {
		cfg.Meetings = NewMeetingHandler(meetings, nil)
	}
	return NewRouter(cfg)
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sampleSession(status attendance.Status) application.Session {
	meetingID := "meeting-1"
	return application.Session{
		ID:        "session-1",
		ContactID: "contact-1",
		MeetingID: &meetingID,
		Status:    status,
		Destination: application.Destination{
			Name:         "Convention Center",
			Address:      "1400 J St",
			Latitude:     38.5816,
			Longitude:    -121.4944,
			RadiusMeters: 100,
		},
		IsComplete: status == attendance.StatusCompleted,
		Version:    1,
		CreatedAt:  fixedTime,
		UpdatedAt:  fixedTime,
	}
}

func sampleCheckIn() attendance.Event {
	lat, lng, distance := 38.5817, -121.4945, 14.2
	return attendance.Event{
		ID:             "event-1",
		SessionID:      "session-1",
		Seq:            1,
		Type:           attendance.EventCheckIn,
		ClientTime:     fixedTime.Add(-time.Second),
		ServerTime:     fixedTime,
		Lat:            &lat,
		Lng:            &lng,
		DistanceMeters: &distance,
		LocationFlag:   verification.FlagGranted,
	}
}
