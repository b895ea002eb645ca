// Package http exposes the attendance service over JSON.
//
// The router serves the following endpoints:
//   - POST /sessions: starts a session for a contact. Body: {"contact_id","meeting_id",
//     "dest_name","dest_address","dest_lat","dest_lng","notes"}. Starting a session ends
//     any session the contact still has open.
//   - GET /sessions/{id}: the session and its events ordered by server time.
//   - POST /sessions/{id}/check-in, POST /sessions/{id}/check-out,
//     POST /sessions/{id}/location: record a location sample. Body: {"latitude",
//     "longitude","accuracy","timestamp","notes","location_timeout"}. The server decides
//     the location flag; a denied flag is recorded and never blocks the transition.
//   - POST /sessions/{id}/end: ends an open session without a check-out.
//   - GET /contacts/{id}/sessions/active: the contact's open session.
//   - GET /contacts/{id}/sessions?limit=&offset=: the contact's sessions, newest first.
//   - POST /offline/sync: replays a batch of queued offline actions. Each item is keyed by
//     its local_id so resubmitting a batch is safe. An item that fails to decode or validate
//     is reported as failed without rejecting the batch.
//   - GET /public/{token}: unauthenticated redacted summary of a completed session.
//   - GET /meetings, POST /meetings, GET /meetings/{id}: the destination catalog.
//   - GET /healthz: liveness check.
//
// Errors are JSON bodies with an error_code. Timestamps accept RFC 3339 strings or unix seconds. Request and response DTOs live
// alongside their handlers.
package http
