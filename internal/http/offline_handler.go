package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/example/attendance-attest/internal/application"
)

type reconciler interface {
	Reconcile(ctx context.Context, batch []application.OfflineItem) (application.SyncReport, error)
}

type OfflineHandler struct {
	reconciler reconciler
	responder  responder
	logger     *slog.Logger
}

func NewOfflineHandler(reconciler reconciler, logger *slog.Logger) *OfflineHandler {
	base := defaultLogger(logger)
	return &OfflineHandler{reconciler: reconciler, responder: newResponder(base), logger: base}
}

// Sync replays a queued batch. Item failures, including items that fail to decode, are part
// of a 200 response; only a malformed envelope is rejected as a whole.
func (h *OfflineHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		handlerUnavailable(w, r)
		return
	}

	var req syncRequest
	if err := decodeRequest(w, r, &req); err != nil {
		handlerLogger(r.Context(), h.logger, "OfflineHandler", "Sync", "error_kind", "bad_request").WarnContext(r.Context(), "invalid sync batch", "error", err)
		h.responder.handleDecodeError(r.Context(), w, err)
		return
	}

	logger := handlerLogger(r.Context(), h.logger, "OfflineHandler", "Sync", "batch_size", len(req.QueuedItems))
	report, err := h.reconciler.Reconcile(r.Context(), req.toItems())
	if err != nil {
		logger.ErrorContext(r.Context(), "sync failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("synced", len(report.Synced), "failed", len(report.Failed), "replayed", len(report.Replayed)).InfoContext(r.Context(), "batch synced")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSyncResponse(report))
}

type syncRequest struct {
	QueuedItems []json.RawMessage `json:"queued_items" validate:"required,min=1"`
}

// toItems decodes each queued item on its own. A field that cannot be decoded is recorded
// on the item so that it fails alone instead of rejecting the batch.
func (r syncRequest) toItems() []application.OfflineItem {
	items := make([]application.OfflineItem, 0, len(r.QueuedItems))
	for _, raw := range r.QueuedItems {
		items = append(items, decodeQueuedItem(raw))
	}
	return items
}

func decodeQueuedItem(raw json.RawMessage) application.OfflineItem {
	var item application.OfflineItem
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		item.DecodeErrors = map[string]string{"item": "queued item must be a JSON object"}
		return item
	}

	fail := func(field, message string) {
		if item.DecodeErrors == nil {
			item.DecodeErrors = map[string]string{}
		}
		item.DecodeErrors[field] = message
	}
	text := func(field string, limit int) string {
		value, ok := fields[field]
		if !ok || isJSONNull(value) {
			return ""
		}
		var out string
		if err := json.Unmarshal(value, &out); err != nil {
			fail(field, field+" must be a string")
			return ""
		}
		if len(out) > limit {
			fail(field, fmt.Sprintf("%s must be at most %d characters", field, limit))
		}
		return out
	}

	item.LocalID = text("local_id", 128)
	item.Type = text("type", 64)
	item.SessionID = text("session_id", 128)
	if payload, ok := fields["payload"]; ok && !isJSONNull(payload) {
		item.Payload = payload
	}
	if queuedAt, ok := fields["queued_at"]; ok {
		var ts application.ClientTime
		if err := ts.UnmarshalJSON(queuedAt); err != nil {
			fail("queued_at", "queued_at must be an ISO 8601 string or epoch seconds")
		} else {
			item.QueuedAt = ts.Time
		}
	}
	return item
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

type syncResponse struct {
	Synced   []application.SyncedItem `json:"synced"`
	Failed   []failedItemDTO          `json:"failed"`
	Replayed []string                 `json:"replayed"`
}

type failedItemDTO struct {
	LocalID     string            `json:"local_id"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason"`
	ErrorKind   string            `json:"error_kind"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

func toSyncResponse(report application.SyncReport) syncResponse {
	resp := syncResponse{
		Synced:   report.Synced,
		Failed:   make([]failedItemDTO, 0, len(report.Failed)),
		Replayed: report.Replayed,
	}
	if resp.Synced == nil {
		resp.Synced = []application.SyncedItem{}
	}
	if resp.Replayed == nil {
		resp.Replayed = []string{}
	}
	for _, failed := range report.Failed {
		resp.Failed = append(resp.Failed, failedItemDTO{
			LocalID:     failed.LocalID,
			Type:        failed.Type,
			Status:      failed.Status,
			Reason:      failed.Reason,
			ErrorKind:   failed.ErrorKind,
			FieldErrors: failed.FieldErrors,
		})
	}
	return resp
}
