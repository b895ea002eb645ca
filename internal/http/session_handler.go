package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/attendance"
)

type sessionService interface {
	CreateSession(ctx context.Context, params application.CreateSessionParams) (application.Session, error)
	CheckIn(ctx context.Context, params application.LocationParams) (application.TransitionResult, error)
	CheckOut(ctx context.Context, params application.LocationParams) (application.TransitionResult, error)
	RecordLocation(ctx context.Context, params application.LocationParams) (application.TransitionResult, error)
	EndSession(ctx context.Context, params application.EndSessionParams) (application.TransitionResult, error)
	GetSession(ctx context.Context, id string) (application.SessionDetail, error)
	ActiveSession(ctx context.Context, contactID string) (application.SessionDetail, error)
	History(ctx context.Context, params application.HistoryParams) (application.SessionPage, error)
}

type SessionHandler struct {
	service   sessionService
	responder responder
	logger    *slog.Logger
}

func NewSessionHandler(service sessionService, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	var req createSessionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "invalid session request", "error", err)
		h.responder.handleDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Create", "contact_id", req.ContactID)
	session, err := h.service.CreateSession(r.Context(), req.toParams())
	if err != nil {
		logger.ErrorContext(r.Context(), "session creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("session_id", session.ID).InfoContext(r.Context(), "session created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(sessionID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	detail, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.log(r.Context(), "Get", "session_id", sessionID).WarnContext(r.Context(), "session lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDetailResponse(detail))
}

func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	contactID, ok := ContactIDFromContext(r.Context())
	if !ok || strings.TrimSpace(contactID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidContactID)
		return
	}

	detail, err := h.service.ActiveSession(r.Context(), contactID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDetailResponse(detail))
}

// History lists a contact's sessions, newest first, paged by the limit and offset query
// parameters.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	contactID, ok := ContactIDFromContext(r.Context())
	if !ok || strings.TrimSpace(contactID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidContactID)
		return
	}

	params, vErr := historyParams(contactID, r.URL.Query())
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	page, err := h.service.History(r.Context(), params)
	if err != nil {
		h.log(r.Context(), "History", "contact_id", contactID).WarnContext(r.Context(), "session history failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := sessionPageResponse{
		Sessions: make([]sessionDTO, 0, len(page.Sessions)),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	for _, session := range page.Sessions {
		resp.Sessions = append(resp.Sessions, toSessionDTO(session))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func historyParams(contactID string, query url.Values) (application.HistoryParams, *application.ValidationError) {
	params := application.HistoryParams{ContactID: contactID}
	errs := map[string]string{}
	for name, dst := range map[string]*int{"limit": &params.Limit, "offset": &params.Offset} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs[name] = name + " must be an integer"
			continue
		}
		*dst = n
	}
	if len(errs) > 0 {
		return application.HistoryParams{}, &application.ValidationError{FieldErrors: errs}
	}
	return params, nil
}

func (h *SessionHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.handleLocation(w, r, "CheckIn", func(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
		return h.service.CheckIn(ctx, params)
	})
}

func (h *SessionHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.handleLocation(w, r, "CheckOut", func(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
		return h.service.CheckOut(ctx, params)
	})
}

func (h *SessionHandler) RecordLocation(w http.ResponseWriter, r *http.Request) {
	h.handleLocation(w, r, "RecordLocation", func(ctx context.Context, params application.LocationParams) (application.TransitionResult, error) {
		return h.service.RecordLocation(ctx, params)
	})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(sessionID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	var req endSessionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.responder.handleDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "End", "session_id", sessionID)
	result, err := h.service.EndSession(r.Context(), application.EndSessionParams{
		SessionID:  sessionID,
		Reason:     req.Reason,
		ClientTime: req.Timestamp.Time,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "session end failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "session ended")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTransitionResponse(result))
}

func (h *SessionHandler) handleLocation(w http.ResponseWriter, r *http.Request, operation string, run func(context.Context, application.LocationParams) (application.TransitionResult, error)) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(sessionID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "missing session id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	var req locationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), operation, "session_id", sessionID, "error_kind", "bad_request").WarnContext(r.Context(), "invalid location request", "error", err)
		h.responder.handleDecodeError(r.Context(), w, err)
		return
	}
	params, vErr := req.toParams(sessionID)
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	logger := h.log(r.Context(), operation, "session_id", sessionID)
	result, err := run(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "location transition failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("location_flag", result.Outcome.Flag, "duplicate", result.Duplicate).InfoContext(r.Context(), "location transition recorded")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTransitionResponse(result))
}

type createSessionRequest struct {
	ContactID   string   `json:"contact_id" validate:"required,max=128"`
	MeetingID   *string  `json:"meeting_id" validate:"omitempty,max=128"`
	DestName    string   `json:"dest_name" validate:"max=256"`
	DestAddress string   `json:"dest_address" validate:"max=512"`
	DestLat     *float64 `json:"dest_lat" validate:"omitempty,latitude"`
	DestLng     *float64 `json:"dest_lng" validate:"omitempty,longitude"`
	Notes       string   `json:"notes" validate:"max=2000"`
}

func (r createSessionRequest) toParams() application.CreateSessionParams {
	return application.CreateSessionParams{
		ContactID:   strings.TrimSpace(r.ContactID),
		MeetingID:   r.MeetingID,
		DestName:    r.DestName,
		DestAddress: r.DestAddress,
		DestLat:     r.DestLat,
		DestLng:     r.DestLng,
		Notes:       r.Notes,
	}
}

type locationRequest struct {
	Latitude        *float64               `json:"latitude" validate:"omitempty,latitude"`
	Longitude       *float64               `json:"longitude" validate:"omitempty,longitude"`
	Accuracy        *float64               `json:"accuracy" validate:"omitempty,gte=0"`
	Timestamp       application.ClientTime `json:"timestamp"`
	Notes           string                 `json:"notes" validate:"max=2000"`
	LocationTimeout bool                   `json:"location_timeout"`
}

// toParams requires coordinates unless the device reported an acquisition timeout.
func (r locationRequest) toParams(sessionID string) (application.LocationParams, *application.ValidationError) {
	params := application.LocationParams{
		SessionID:  sessionID,
		Accuracy:   r.Accuracy,
		ClientTime: r.Timestamp.Time,
		Timeout:    r.LocationTimeout,
		Notes:      r.Notes,
	}
	if r.LocationTimeout {
		return params, nil
	}

	missing := map[string]string{}
	if r.Latitude == nil {
		missing["latitude"] = "latitude is required"
	}
	if r.Longitude == nil {
		missing["longitude"] = "longitude is required"
	}
	if len(missing) > 0 {
		return application.LocationParams{}, &application.ValidationError{FieldErrors: missing}
	}
	params.Latitude = *r.Latitude
	params.Longitude = *r.Longitude
	return params, nil
}

type endSessionRequest struct {
	Reason    string                 `json:"reason" validate:"max=500"`
	Timestamp application.ClientTime `json:"timestamp"`
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

type sessionPageResponse struct {
	Sessions []sessionDTO `json:"sessions"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

type sessionDetailResponse struct {
	Session sessionDTO `json:"session"`
	Events  []eventDTO `json:"events"`
}

type transitionResponse struct {
	Event                eventDTO `json:"event"`
	LocationFlag         string   `json:"location_flag,omitempty"`
	DistanceMeters       *float64 `json:"distance_meters"`
	WithinRange          bool     `json:"within_range"`
	SessionStatus        string   `json:"session_status"`
	Duplicate            bool     `json:"duplicate"`
	DurationMinutes      *int     `json:"duration_minutes,omitempty"`
	PublicToken          *string  `json:"public_token,omitempty"`
	PublicTokenExpiresAt *string  `json:"public_token_expires_at,omitempty"`
}

type sessionDTO struct {
	ID                   string  `json:"id"`
	ContactID            string  `json:"contact_id"`
	MeetingID            *string `json:"meeting_id"`
	Status               string  `json:"status"`
	DestName             string  `json:"dest_name"`
	DestAddress          string  `json:"dest_address"`
	DestLat              float64 `json:"dest_lat"`
	DestLng              float64 `json:"dest_lng"`
	DestRadiusMeters     float64 `json:"dest_radius_meters"`
	SessionNotes         string  `json:"session_notes"`
	IsComplete           bool    `json:"is_complete"`
	PublicToken          *string `json:"public_token,omitempty"`
	PublicTokenExpiresAt *string `json:"public_token_expires_at,omitempty"`
	Version              int64   `json:"version"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

type eventDTO struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"session_id"`
	Seq            int64    `json:"seq"`
	Type           string   `json:"type"`
	ClientTime     *string  `json:"ts_client"`
	ServerTime     string   `json:"ts_server"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	LocationFlag   string   `json:"location_flag,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

func toSessionDTO(session application.Session) sessionDTO {
	return sessionDTO{
		ID:                   session.ID,
		ContactID:            session.ContactID,
		MeetingID:            session.MeetingID,
		Status:               string(session.Status),
		DestName:             session.Destination.Name,
		DestAddress:          session.Destination.Address,
		DestLat:              session.Destination.Latitude,
		DestLng:              session.Destination.Longitude,
		DestRadiusMeters:     session.Destination.RadiusMeters,
		SessionNotes:         session.Notes,
		IsComplete:           session.IsComplete,
		PublicToken:          session.PublicToken,
		PublicTokenExpiresAt: formatOptionalTime(session.PublicTokenExpiresAt),
		Version:              session.Version,
		CreatedAt:            formatTime(session.CreatedAt),
		UpdatedAt:            formatTime(session.UpdatedAt),
	}
}

func toEventDTO(event attendance.Event) eventDTO {
	dto := eventDTO{
		ID:             event.ID,
		SessionID:      event.SessionID,
		Seq:            event.Seq,
		Type:           string(event.Type),
		ServerTime:     formatTime(event.ServerTime),
		Lat:            event.Lat,
		Lng:            event.Lng,
		Accuracy:       event.Accuracy,
		DistanceMeters: event.DistanceMeters,
		LocationFlag:   string(event.LocationFlag),
		Notes:          event.Notes,
	}
	if !event.ClientTime.IsZero() {
		dto.ClientTime = formatOptionalTime(&event.ClientTime)
	}
	return dto
}

func toEventDTOs(events []attendance.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, toEventDTO(event))
	}
	return out
}

func toSessionDetailResponse(detail application.SessionDetail) sessionDetailResponse {
	return sessionDetailResponse{
		Session: toSessionDTO(detail.Session),
		Events:  toEventDTOs(detail.Events),
	}
}

func toTransitionResponse(result application.TransitionResult) transitionResponse {
	resp := transitionResponse{
		Event:           toEventDTO(result.Event),
		LocationFlag:    string(result.Outcome.Flag),
		DistanceMeters:  result.Outcome.DistanceMeters,
		WithinRange:     result.Outcome.WithinRange(),
		SessionStatus:   string(result.Session.Status),
		Duplicate:       result.Duplicate,
		DurationMinutes: result.DurationMinutes,
	}
	if result.Session.Status == attendance.StatusCompleted {
		resp.PublicToken = result.Session.PublicToken
		resp.PublicTokenExpiresAt = formatOptionalTime(result.Session.PublicTokenExpiresAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}
