package http

import (
	"net/http"
	"testing"

	"github.com/example/attendance-attest/internal/application"
)

func TestMeetingHandler(t *testing.T) {
	meeting := application.Meeting{
		ID: "meeting-1", Name: "Convention Center", Address: "1400 J St",
		Latitude: 38.5816, Longitude: -121.4944, RadiusMeters: 100, IsActive: true,
		CreatedAt: fixedTime, UpdatedAt: fixedTime,
	}

	t.Run("create", func(t *testing.T) {
		svc := &fakeMeetingService{meeting: meeting}
		rec := doRequest(t, newTestRouter(nil, nil, svc), http.MethodPost, "/meetings",
			`{"name":"Convention Center","address":"1400 J St","latitude":38.5816,"longitude":-121.4944}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if svc.input.Name != "Convention Center" || svc.input.RadiusMeters != 0 || svc.input.IsActive != nil {
			t.Fatalf("unexpected input %+v", svc.input)
		}
		if got := decodeBody(t, rec)["meeting"].(map[string]any)["radius_meters"]; got != float64(100) {
			t.Fatalf("unexpected radius %v", got)
		}
	})

	t.Run("create validates", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(nil, nil, &fakeMeetingService{}), http.MethodPost, "/meetings", `{"latitude":-100,"radius_meters":-5}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		errs := decodeBody(t, rec)["errors"].(map[string]any)
		for _, field := range []string{"name", "address", "latitude", "radius_meters"} {
			if errs[field] == nil {
				t.Fatalf("expected %s error, got %v", field, errs)
			}
		}
	})

	t.Run("list filters active", func(t *testing.T) {
		svc := &fakeMeetingService{meetings: []application.Meeting{meeting}}
		router := newTestRouter(nil, nil, svc)

		rec := doRequest(t, router, http.MethodGet, "/meetings?active=true", "")
		if rec.Code != http.StatusOK || !svc.activeOnly {
			t.Fatalf("expected active-only listing, got %d active=%v", rec.Code, svc.activeOnly)
		}
		if len(decodeBody(t, rec)["meetings"].([]any)) != 1 {
			t.Fatalf("expected one meeting")
		}

		rec = doRequest(t, router, http.MethodGet, "/meetings?active=maybe", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for bad filter, got %d", rec.Code)
		}
	})

	t.Run("get", func(t *testing.T) {
		svc := &fakeMeetingService{err: application.ErrNotFound}
		rec := doRequest(t, newTestRouter(nil, nil, svc), http.MethodGet, "/meetings/missing", "")
		if rec.Code != http.StatusNotFound || svc.input.ID != "missing" {
			t.Fatalf("expected 404 for missing, got %d (%s)", rec.Code, svc.input.ID)
		}
	})
}
