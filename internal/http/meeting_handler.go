package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/attendance-attest/internal/application"
)

type meetingService interface {
	CreateMeeting(ctx context.Context, input application.MeetingInput) (application.Meeting, error)
	GetMeeting(ctx context.Context, id string) (application.Meeting, error)
	ListMeetings(ctx context.Context, activeOnly bool) ([]application.Meeting, error)
}

type MeetingHandler struct {
	service   meetingService
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, logger *slog.Logger) *MeetingHandler {
	base := defaultLogger(logger)
	return &MeetingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MeetingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "MeetingHandler", operation, attrs...)
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	var req meetingRequest
	if err := decodeRequest(w, r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "invalid meeting request", "error", err)
		h.responder.handleDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Create")
	meeting, err := h.service.CreateMeeting(r.Context(), req.toInput())
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("meeting_id", meeting.ID).InfoContext(r.Context(), "meeting created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	meetingID, ok := MeetingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(meetingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return
	}

	meeting, err := h.service.GetMeeting(r.Context(), meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	activeOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"active": "active must be true or false"},
			})
			return
		}
		activeOnly = parsed
	}

	meetings, err := h.service.ListMeetings(r.Context(), activeOnly)
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "meeting list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "List", "result_count", len(meetings)).DebugContext(r.Context(), "meetings listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMeetingsResponse{Meetings: toMeetingDTOs(meetings)})
}

type meetingRequest struct {
	ID           string  `json:"id" validate:"omitempty,max=128"`
	Name         string  `json:"name" validate:"required,max=256"`
	Address      string  `json:"address" validate:"required,max=512"`
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	RadiusMeters float64 `json:"radius_meters" validate:"gte=0"`
	IsActive     *bool   `json:"is_active"`
}

func (r meetingRequest) toInput() application.MeetingInput {
	return application.MeetingInput{
		ID:           strings.TrimSpace(r.ID),
		Name:         r.Name,
		Address:      r.Address,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		RadiusMeters: r.RadiusMeters,
		IsActive:     r.IsActive,
	}
}

type meetingResponse struct {
	Meeting meetingDTO `json:"meeting"`
}

type listMeetingsResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type meetingDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	IsActive     bool    `json:"is_active"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func toMeetingDTO(meeting application.Meeting) meetingDTO {
	return meetingDTO{
		ID:           meeting.ID,
		Name:         meeting.Name,
		Address:      meeting.Address,
		Latitude:     meeting.Latitude,
		Longitude:    meeting.Longitude,
		RadiusMeters: meeting.RadiusMeters,
		IsActive:     meeting.IsActive,
		CreatedAt:    formatTime(meeting.CreatedAt),
		UpdatedAt:    formatTime(meeting.UpdatedAt),
	}
}

func toMeetingDTOs(meetings []application.Meeting) []meetingDTO {
	out := make([]meetingDTO, 0, len(meetings))
	for _, meeting := range meetings {
		out = append(out, toMeetingDTO(meeting))
	}
	return out
}
