package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/attendance-attest/internal/config"
	"github.com/example/attendance-attest/internal/notify"
	"github.com/example/attendance-attest/internal/persistence/memory"
	"github.com/example/attendance-attest/internal/testfixtures"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (p *capturingPublisher) Publish(ctx context.Context, msg notify.Message) error {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) published() []notify.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Message(nil), p.messages...)
}

type testEnv struct {
	app       *app
	server    *httptest.Server
	clock     *testfixtures.Clock
	publisher *capturingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Config{
		DatabaseURL:         "memory:",
		DefaultRadiusMeters: 100,
		PublicTokenTTL:      30 * 24 * time.Hour,
		MaxSyncBatch:        10,
	}
	clock := testfixtures.NewClock(time.Time{})
	publisher := &capturingPublisher{}
	wired, err := newApp(cfg, appDeps{
		Store:       memory.Open(),
		Publisher:   publisher,
		IDGenerator: testfixtures.NewIDGenerator("id").NextFunc(),
		Now:         clock.NowFunc(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	wired.dispatcher.Start(context.Background())

	server := httptest.NewServer(wired.handler)
	t.Cleanup(server.Close)

	return &testEnv{app: wired, server: server, clock: clock, publisher: publisher}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func field(t *testing.T, doc map[string]any, path ...string) any {
	t.Helper()
	var current any = doc
	for _, key := range path {
		obj, ok := current.(map[string]any)
		require.Truef(t, ok, "expected object at %q in %v", key, doc)
		current = obj[key]
	}
	return current
}

func TestAttendanceFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/meetings", map[string]any{
		"name":          "Senate Hearing Room",
		"address":       "1315 10th St, Sacramento, CA",
		"latitude":      testfixtures.CapitolLatitude,
		"longitude":     testfixtures.CapitolLongitude,
		"radius_meters": 100,
	})
	require.Equal(t, http.StatusCreated, status, body)
	meetingID := field(t, body, "meeting", "id").(string)

	status, body = env.do(t, http.MethodPost, "/sessions", map[string]any{
		"contact_id": "contact-42",
		"meeting_id": meetingID,
	})
	require.Equal(t, http.StatusCreated, status, body)
	sessionID := field(t, body, "session", "id").(string)
	assert.Equal(t, "active", field(t, body, "session", "status"))

	nearLat, nearLng := testfixtures.PointNorth(testfixtures.CapitolLatitude, testfixtures.CapitolLongitude, 15)
	status, body = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/check-in", map[string]any{
		"latitude":  nearLat,
		"longitude": nearLng,
		"accuracy":  8,
		"timestamp": env.clock.Current().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "granted", field(t, body, "location_flag"))
	assert.Equal(t, true, field(t, body, "within_range"))
	assert.InDelta(t, 15, field(t, body, "distance_meters").(float64), 0.5)
	assert.Equal(t, "checked_in", field(t, body, "session_status"))

	env.clock.Advance(47 * time.Minute)
	farLat, farLng := testfixtures.PointNorth(testfixtures.CapitolLatitude, testfixtures.CapitolLongitude, 500)
	status, body = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/check-out", map[string]any{
		"latitude":  farLat,
		"longitude": farLng,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "denied", field(t, body, "location_flag"))
	assert.Equal(t, "completed", field(t, body, "session_status"))
	assert.Equal(t, float64(47), field(t, body, "duration_minutes"))
	token, ok := field(t, body, "public_token").(string)
	require.True(t, ok, "expected a public token in %v", body)

	status, body = env.do(t, http.MethodGet, "/public/"+token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, sessionID, field(t, body, "session_id"))
	assert.Equal(t, "granted", field(t, body, "check_in_flag"))
	assert.Equal(t, "denied", field(t, body, "check_out_flag"))
	assert.NotContains(t, body, "contact_id")

	status, body = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, field(t, body, "events"), 2)

	status, _ = env.do(t, http.MethodGet, "/contacts/contact-42/sessions/active", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodGet, "/contacts/contact-42/sessions?limit=5", nil)
	require.Equal(t, http.StatusOK, status, body)
	history := field(t, body, "sessions").([]any)
	require.Len(t, history, 1)
	assert.Equal(t, sessionID, history[0].(map[string]any)["id"])
	assert.Equal(t, "completed", history[0].(map[string]any)["status"])
	assert.Equal(t, float64(5), field(t, body, "limit"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.app.dispatcher.Close(ctx))
	messages := env.publisher.published()
	require.Len(t, messages, 1)
	assert.Equal(t, notify.KindSessionCompleted, messages[0].Kind)
	assert.Equal(t, sessionID, messages[0].SessionID)
	assert.Equal(t, 47, messages[0].DurationMinutes)
	assert.Equal(t, token, messages[0].PublicToken)
}

func TestCheckOutBeforeCheckInConflicts(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/sessions", map[string]any{
		"contact_id": "contact-9",
		"dest_name":  "Field Office",
		"dest_lat":   testfixtures.CapitolLatitude,
		"dest_lng":   testfixtures.CapitolLongitude,
	})
	require.Equal(t, http.StatusCreated, status, body)
	sessionID := field(t, body, "session", "id").(string)

	status, body = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/check-out", map[string]any{
		"latitude":  testfixtures.CapitolLatitude,
		"longitude": testfixtures.CapitolLongitude,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, field(t, body, "error_code"))
}

func TestOfflineSyncReplaysBatch(t *testing.T) {
	env := newTestEnv(t)

	batch := map[string]any{
		"queued_items": []map[string]any{
			{
				"local_id":   "local-1",
				"type":       "start_session",
				"session_id": "tmp-session",
				"payload": map[string]any{
					"contact_id": "contact-offline",
					"dest_name":  "Capitol",
					"dest_lat":   testfixtures.CapitolLatitude,
					"dest_lng":   testfixtures.CapitolLongitude,
				},
			},
			{
				"local_id":   "local-2",
				"type":       "check_in",
				"session_id": "tmp-session",
				"payload": map[string]any{
					"latitude":  testfixtures.CapitolLatitude,
					"longitude": testfixtures.CapitolLongitude,
					"timestamp": env.clock.Current().Add(-time.Hour).Format(time.RFC3339),
				},
			},
		},
	}

	status, body := env.do(t, http.MethodPost, "/offline/sync", batch)
	require.Equal(t, http.StatusOK, status, body)
	synced := field(t, body, "synced").([]any)
	require.Len(t, synced, 2, body)
	assert.Empty(t, field(t, body, "failed"))
	assert.Empty(t, field(t, body, "replayed"))

	first := synced[0].(map[string]any)
	second := synced[1].(map[string]any)
	sessionID := first["session_id"].(string)
	assert.Equal(t, sessionID, second["session_id"], "check-in should resolve the client session reference")

	status, body = env.do(t, http.MethodPost, "/offline/sync", batch)
	require.Equal(t, http.StatusOK, status, body)
	assert.ElementsMatch(t, []any{"local-1", "local-2"}, field(t, body, "replayed"))
	replayed := field(t, body, "synced").([]any)
	require.Len(t, replayed, 2)
	assert.Equal(t, second["server_id"], replayed[1].(map[string]any)["server_id"])

	status, body = env.do(t, http.MethodGet, fmt.Sprintf("/sessions/%s", sessionID), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, field(t, body, "events"), 1, "replay must not append events")
}

func TestOfflineSyncIsolatesInvalidItems(t *testing.T) {
	env := newTestEnv(t)

	batch := `{"queued_items":[
		{"local_id":"bad-type","type":"teleport","session_id":"tmp-1"},
		{"local_id":"bad-time","type":"check_in","session_id":"tmp-1","queued_at":"not a time"},
		{"local_id":"no-session","type":"check_in","payload":{"latitude":1,"longitude":2}},
		{"local_id":"start","type":"start_session","session_id":"tmp-1","payload":{"contact_id":"contact-mixed","dest_name":"Capitol","dest_lat":38.5766,"dest_lng":-121.4932}}
	]}`
	resp, err := env.server.Client().Post(env.server.URL+"/offline/sync", "application/json", strings.NewReader(batch))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	synced := field(t, body, "synced").([]any)
	require.Len(t, synced, 1, body)
	assert.Equal(t, "start", synced[0].(map[string]any)["local_id"])

	failed := map[string]map[string]any{}
	for _, entry := range field(t, body, "failed").([]any) {
		item := entry.(map[string]any)
		failed[item["local_id"].(string)] = item
	}
	require.Len(t, failed, 3, body)
	assert.Contains(t, failed["bad-type"]["field_errors"], "type")
	assert.Contains(t, failed["bad-time"]["field_errors"], "queued_at")
	assert.Contains(t, failed["no-session"]["field_errors"], "session_id")
	for _, item := range failed {
		assert.Equal(t, "validation", item["error_kind"])
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
