package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/attendance-attest/internal/application"
)

type publicSummaryService interface {
	PublicSummary(ctx context.Context, token string) (application.PublicSummary, error)
}

// PublicHandler serves share links. It never reveals why a token was rejected.
type PublicHandler struct {
	service   publicSummaryService
	responder responder
	logger    *slog.Logger
}

func NewPublicHandler(service publicSummaryService, logger *slog.Logger) *PublicHandler {
	base := defaultLogger(logger)
	return &PublicHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *PublicHandler) Summary(w http.ResponseWriter, r *http.Request, token string) {
	if h == nil || h.service == nil {
		handlerUnavailable(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")

	summary, err := h.service.PublicSummary(r.Context(), strings.TrimSpace(token))
	if err != nil {
		status := statusForError(err)
		if status != http.StatusInternalServerError {
			h.responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "share link not found or expired"})
			return
		}
		handlerLogger(r.Context(), h.logger, "PublicHandler", "Summary").ErrorContext(r.Context(), "public summary failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toPublicSummaryDTO(summary))
}

type publicSummaryDTO struct {
	SessionID       string           `json:"session_id"`
	DestName        string           `json:"dest_name"`
	DestAddress     string           `json:"dest_address"`
	Status          string           `json:"status"`
	CheckInAt       *string          `json:"check_in_at"`
	CheckOutAt      *string          `json:"check_out_at"`
	CheckInFlag     string           `json:"check_in_flag,omitempty"`
	CheckOutFlag    string           `json:"check_out_flag,omitempty"`
	DurationMinutes *int             `json:"duration_minutes"`
	ExpiresAt       string           `json:"expires_at"`
	Events          []publicEventDTO `json:"events"`
}

type publicEventDTO struct {
	Type           string   `json:"type"`
	ServerTime     string   `json:"ts_server"`
	LocationFlag   string   `json:"location_flag,omitempty"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

func toPublicSummaryDTO(summary application.PublicSummary) publicSummaryDTO {
	dto := publicSummaryDTO{
		SessionID:       summary.SessionID,
		DestName:        summary.DestName,
		DestAddress:     summary.DestAddress,
		Status:          string(summary.Status),
		CheckInAt:       formatOptionalTime(summary.CheckInAt),
		CheckOutAt:      formatOptionalTime(summary.CheckOutAt),
		CheckInFlag:     string(summary.CheckInFlag),
		CheckOutFlag:    string(summary.CheckOutFlag),
		DurationMinutes: summary.DurationMinutes,
		ExpiresAt:       formatTime(summary.ExpiresAt),
		Events:          make([]publicEventDTO, 0, len(summary.Events)),
	}
	for _, event := range summary.Events {
		dto.Events = append(dto.Events, publicEventDTO{
			Type:           string(event.Type),
			ServerTime:     formatTime(event.ServerTime),
			LocationFlag:   string(event.LocationFlag),
			DistanceMeters: event.DistanceMeters,
		})
	}
	return dto
}
