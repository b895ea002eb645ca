package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/attendance-attest/internal/persistence"
)

// DefaultMaxSyncBatch bounds the number of items accepted in one offline batch.
const DefaultMaxSyncBatch = 500

// Offline item types, in the order they are applied within one session.
const (
	ItemStartSession   = "start_session"
	ItemCheckIn        = "check_in"
	ItemLocationUpdate = "location_update"
	ItemCheckOut       = "check_out"
	ItemStatusChange   = "status_change"
)

var itemPriority = map[string]int{
	ItemStartSession:   0,
	ItemCheckIn:        1,
	ItemLocationUpdate: 2,
	ItemCheckOut:       3,
	ItemStatusChange:   4,
}

const (
	syncStatusSynced = "synced"
	syncStatusFailed = "failed"
)

// SyncRecordRepository reads the outcome of applied offline items. Applied transitions write
// their record through SessionRepository in the same commit; SaveSyncRecord covers items
// that commit nothing.
type SyncRecordRepository interface {
	GetSyncRecord(ctx context.Context, localID string) (SyncRecord, error)
	FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (SyncRecord, error)
	SaveSyncRecord(ctx context.Context, record SyncRecord) error
}

// OfflineItem is one action queued by a client while offline. SessionID is either a server
// session id or the client reference given to a start_session item.
type OfflineItem struct {
	LocalID   string
	Type      string
	SessionID string
	Payload   json.RawMessage
	QueuedAt  time.Time
	// DecodeErrors holds field problems found while decoding the item. Such an item fails
	// on its own without touching the rest of the batch.
	DecodeErrors map[string]string
}

// SyncedItem reports an applied item. Replays return the stored value unchanged.
type SyncedItem struct {
	LocalID   string `json:"local_id"`
	Type      string `json:"type"`
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// FailedItem reports an item that could not be applied.
type FailedItem struct {
	LocalID     string
	Type        string
	Status      string
	Reason      string
	ErrorKind   string
	FieldErrors map[string]string
}

// SyncReport lists results in submitted order. Replayed holds the local ids answered from
// the idempotency ledger.
type SyncReport struct {
	Synced   []SyncedItem
	Failed   []FailedItem
	Replayed []string
}

type itemOutcome struct {
	synced   *SyncedItem
	failed   *FailedItem
	replayed bool
}

// Reconciler replays offline batches through the session service.
type Reconciler struct {
	sessions *SessionService
	syncs    SyncRecordRepository
	now      func() time.Time
	maxBatch int
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewReconciler constructs a reconciler with the default batch limit.
func NewReconciler(sessions *SessionService, syncs SyncRecordRepository, now func() time.Time) *Reconciler {
	return NewReconcilerWithLogger(sessions, syncs, now, DefaultMaxSyncBatch, nil)
}

// NewReconcilerWithLogger constructs a reconciler with a batch limit and logger.
func NewReconcilerWithLogger(sessions *SessionService, syncs SyncRecordRepository, now func() time.Time, maxBatch int, logger *slog.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxSyncBatch
	}
	return &Reconciler{
		sessions: sessions,
		syncs:    syncs,
		now:      now,
		maxBatch: maxBatch,
		locks:    newKeyedMutex(),
		logger:   defaultLogger(logger),
	}
}

func (r *Reconciler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, r.logger, "Reconciler", operation, attrs...)
}

// Reconcile applies a batch. Items keep their batch slots, but the items of one session are
// applied in type priority, then queue time, then batch position. An item's failure never
// stops the batch. Only an oversized batch, a missing or repeated local id, or a cancelled
// context fails the whole call.
func (r *Reconciler) Reconcile(ctx context.Context, batch []OfflineItem) (report SyncReport, err error) {
	if r == nil {
		err = fmt.Errorf("Reconciler is nil")
		return
	}
	if r.sessions == nil || r.syncs == nil {
		err = fmt.Errorf("reconciler dependencies not configured")
		return
	}

	logger := r.loggerWith(ctx, "Reconcile", "batch_size", len(batch))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reconcile batch", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"synced", len(report.Synced),
			"failed", len(report.Failed),
			"replayed", len(report.Replayed),
		).InfoContext(ctx, "batch reconciled")
	}()

	if vErr := r.validateBatch(batch); vErr.HasErrors() {
		err = vErr
		return
	}

	outcomes := make([]itemOutcome, len(batch))
	for _, idx := range applicationOrder(batch) {
		if err = ctx.Err(); err != nil {
			return
		}
		outcomes[idx] = r.reconcileItem(ctx, batch[idx])
	}

	report = SyncReport{Synced: []SyncedItem{}, Failed: []FailedItem{}, Replayed: []string{}}
	for i, outcome := range outcomes {
		switch {
		case outcome.synced != nil:
			report.Synced = append(report.Synced, *outcome.synced)
			if outcome.replayed {
				report.Replayed = append(report.Replayed, batch[i].LocalID)
			}
		case outcome.failed != nil:
			report.Failed = append(report.Failed, *outcome.failed)
		}
	}
	return
}

// validateBatch checks the batch envelope. Without a unique local id an item can be neither
// reported nor replayed, so those problems reject the batch.
func (r *Reconciler) validateBatch(batch []OfflineItem) *ValidationError {
	vErr := &ValidationError{}
	if len(batch) > r.maxBatch {
		vErr.add("queued_items", fmt.Sprintf("batch exceeds %d items", r.maxBatch))
		return vErr
	}

	seen := make(map[string]int, len(batch))
	for i, item := range batch {
		prefix := "queued_items[" + strconv.Itoa(i) + "]."
		localID := strings.TrimSpace(item.LocalID)
		switch {
		case localID == "":
			vErr.add(prefix+"local_id", "local id is required")
		case seen[localID] > 0:
			vErr.add(prefix+"local_id", fmt.Sprintf("local id repeats item %d", seen[localID]-1))
		default:
			seen[localID] = i + 1
		}
	}
	return vErr
}

func validateItem(item OfflineItem) *ValidationError {
	vErr := &ValidationError{}
	for field, message := range item.DecodeErrors {
		vErr.add(field, message)
	}
	if _, ok := itemPriority[item.Type]; !ok && vErr.FieldErrors["type"] == "" {
		vErr.add("type", fmt.Sprintf("unknown item type %q", item.Type))
	}
	if item.SessionID == "" && vErr.FieldErrors["session_id"] == "" {
		vErr.add("session_id", "session id is required")
	}
	return vErr
}

func priority(itemType string) int {
	if p, ok := itemPriority[itemType]; ok {
		return p
	}
	return len(itemPriority)
}

// applicationOrder returns batch indexes in the order they are applied. Each session's items
// are sorted and placed back into the slots that session occupied.
func applicationOrder(batch []OfflineItem) []int {
	groups := make(map[string][]int)
	for i, item := range batch {
		key := strings.TrimSpace(item.SessionID)
		groups[key] = append(groups[key], i)
	}

	order := make([]int, len(batch))
	for _, slots := range groups {
		sorted := make([]int, len(slots))
		copy(sorted, slots)
		sort.SliceStable(sorted, func(a, b int) bool {
			left, right := batch[sorted[a]], batch[sorted[b]]
			if pl, pr := priority(left.Type), priority(right.Type); pl != pr {
				return pl < pr
			}
			if !left.QueuedAt.Equal(right.QueuedAt) {
				return left.QueuedAt.Before(right.QueuedAt)
			}
			return sorted[a] < sorted[b]
		})
		for k, slot := range slots {
			order[slot] = sorted[k]
		}
	}
	return order
}

func (r *Reconciler) reconcileItem(ctx context.Context, item OfflineItem) itemOutcome {
	item.LocalID = strings.TrimSpace(item.LocalID)
	item.SessionID = strings.TrimSpace(item.SessionID)

	if vErr := validateItem(item); vErr.HasErrors() {
		return failedOutcome(item, vErr)
	}

	unlock := r.locks.Lock(item.LocalID)
	defer unlock()

	digest, err := payloadDigest(item)
	if err != nil {
		return failedOutcome(item, err)
	}

	stored, err := r.syncs.GetSyncRecord(ctx, item.LocalID)
	switch {
	case err == nil:
		return replayOutcome(item, stored, digest)
	case !errors.Is(mapSyncRepoError(err), ErrNotFound):
		return failedOutcome(item, mapSyncRepoError(err))
	}

	intent := SyncIntent{
		LocalID:       item.LocalID,
		ItemType:      item.Type,
		SessionRef:    item.SessionID,
		PayloadDigest: digest,
	}
	synced, recorded, err := r.apply(ctx, item, intent)
	if err != nil {
		// Another process may have applied the same local id since the lookup.
		if stored, getErr := r.syncs.GetSyncRecord(ctx, item.LocalID); getErr == nil {
			return replayOutcome(item, stored, digest)
		}
		return failedOutcome(item, err)
	}
	if recorded {
		return itemOutcome{synced: &synced}
	}

	// A retried check-in commits nothing, so its record is written on its own. Losing this
	// write is harmless: a resubmission finds the same stored event again.
	record, err := newSyncRecord(intent, synced.SessionID, synced.ServerID, r.now())
	if err == nil {
		err = r.syncs.SaveSyncRecord(ctx, *record)
	}
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			if stored, getErr := r.syncs.GetSyncRecord(ctx, item.LocalID); getErr == nil {
				return replayOutcome(item, stored, digest)
			}
		}
		r.loggerWith(ctx, "Reconcile", "local_id", item.LocalID).ErrorContext(ctx,
			"sync result could not be recorded", "error", err, "server_id", synced.ServerID)
		return failedOutcome(item, fmt.Errorf("record sync result: %w", err))
	}
	return itemOutcome{synced: &synced}
}

// apply routes an item to the session service. recorded reports whether the item's sync
// record was written by the transition's commit.
func (r *Reconciler) apply(ctx context.Context, item OfflineItem, intent SyncIntent) (synced SyncedItem, recorded bool, err error) {
	synced = SyncedItem{LocalID: item.LocalID, Type: item.Type, Status: syncStatusSynced}

	if item.Type == ItemStartSession {
		var payload startSessionPayload
		if err = decodePayload(item.Payload, &payload); err != nil {
			return SyncedItem{}, false, err
		}
		params := payload.params()
		params.Sync = &intent
		var session Session
		session, err = r.sessions.CreateSession(ctx, params)
		if err != nil {
			return SyncedItem{}, false, err
		}
		synced.ServerID = session.ID
		synced.SessionID = session.ID
		return synced, true, nil
	}

	sessionID, err := r.resolveSession(ctx, item.SessionID)
	if err != nil {
		return SyncedItem{}, false, err
	}
	synced.SessionID = sessionID

	var result TransitionResult
	switch item.Type {
	case ItemCheckIn, ItemCheckOut, ItemLocationUpdate:
		var payload locationPayload
		if err = decodePayload(item.Payload, &payload); err != nil {
			return SyncedItem{}, false, err
		}
		params, vErr := payload.params(sessionID)
		if vErr.HasErrors() {
			return SyncedItem{}, false, vErr
		}
		params.Sync = &intent
		switch item.Type {
		case ItemCheckIn:
			result, err = r.sessions.CheckIn(ctx, params)
		case ItemCheckOut:
			result, err = r.sessions.CheckOut(ctx, params)
		default:
			result, err = r.sessions.RecordLocation(ctx, params)
		}
	case ItemStatusChange:
		var payload statusChangePayload
		if err = decodePayload(item.Payload, &payload); err != nil {
			return SyncedItem{}, false, err
		}
		result, err = r.sessions.EndSession(ctx, EndSessionParams{
			SessionID:  sessionID,
			Reason:     payload.Reason,
			ClientTime: payload.Timestamp.Time,
			Sync:       &intent,
		})
	default:
		return SyncedItem{}, false, fmt.Errorf("unknown item type %q", item.Type)
	}
	if err != nil {
		return SyncedItem{}, false, err
	}

	synced.ServerID = result.Event.ID
	return synced, !result.Duplicate, nil
}

// newSyncRecord builds the ledger entry for an applied item. Result holds the SyncedItem
// reported now and on every replay.
func newSyncRecord(intent SyncIntent, sessionID, serverID string, now time.Time) (*SyncRecord, error) {
	result, err := json.Marshal(SyncedItem{
		LocalID:   intent.LocalID,
		Type:      intent.ItemType,
		ServerID:  serverID,
		SessionID: sessionID,
		Status:    syncStatusSynced,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sync result: %w", err)
	}
	return &SyncRecord{
		LocalID:       intent.LocalID,
		ItemType:      intent.ItemType,
		SessionRef:    intent.SessionRef,
		SessionID:     sessionID,
		ServerID:      serverID,
		PayloadDigest: intent.PayloadDigest,
		Result:        result,
		CreatedAt:     now,
	}, nil
}

// resolveSession maps a client session reference to the server id it was started as.
func (r *Reconciler) resolveSession(ctx context.Context, ref string) (string, error) {
	record, err := r.syncs.FindSyncRecordBySessionRef(ctx, ItemStartSession, ref)
	if err == nil {
		return record.SessionID, nil
	}
	if errors.Is(mapSyncRepoError(err), ErrNotFound) {
		return ref, nil
	}
	return "", mapSyncRepoError(err)
}

func replayOutcome(item OfflineItem, stored SyncRecord, digest string) itemOutcome {
	if stored.ItemType != item.Type || stored.PayloadDigest != digest {
		return failedOutcome(item, ErrIdempotencyConflict)
	}
	var synced SyncedItem
	if err := json.Unmarshal(stored.Result, &synced); err != nil {
		return failedOutcome(item, fmt.Errorf("decode stored sync result: %w", err))
	}
	return itemOutcome{synced: &synced, replayed: true}
}

func failedOutcome(item OfflineItem, err error) itemOutcome {
	failed := &FailedItem{
		LocalID:   item.LocalID,
		Type:      item.Type,
		Status:    syncStatusFailed,
		Reason:    err.Error(),
		ErrorKind: ErrorKind(err),
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		failed.FieldErrors = vErr.FieldErrors
	}
	return itemOutcome{failed: failed}
}

// payloadDigest fingerprints the parts of an item that decide its effect. Payloads are
// compacted first so whitespace changes between retries do not count as conflicts.
func payloadDigest(item OfflineItem) (string, error) {
	var payload bytes.Buffer
	if len(bytes.TrimSpace(item.Payload)) > 0 {
		if err := json.Compact(&payload, item.Payload); err != nil {
			vErr := &ValidationError{}
			vErr.add("payload", "payload must be valid JSON")
			return "", vErr
		}
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(item.Type))
	h.Write([]byte{0})
	h.Write([]byte(item.SessionID))
	h.Write([]byte{0})
	h.Write(payload.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		vErr := &ValidationError{}
		vErr.add("payload", "payload is malformed: "+err.Error())
		return vErr
	}
	return nil
}

func mapSyncRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

type startSessionPayload struct {
	ContactID   string   `json:"contact_id"`
	MeetingID   *string  `json:"meeting_id"`
	DestName    string   `json:"dest_name"`
	DestAddress string   `json:"dest_address"`
	DestLat     *float64 `json:"dest_lat"`
	DestLng     *float64 `json:"dest_lng"`
	Notes       string   `json:"notes"`
}

func (p startSessionPayload) params() CreateSessionParams {
	return CreateSessionParams{
		ContactID:   p.ContactID,
		MeetingID:   p.MeetingID,
		DestName:    p.DestName,
		DestAddress: p.DestAddress,
		DestLat:     p.DestLat,
		DestLng:     p.DestLng,
		Notes:       p.Notes,
	}
}

type locationPayload struct {
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	Accuracy        *float64   `json:"accuracy"`
	Timestamp       ClientTime `json:"timestamp"`
	Notes           string     `json:"notes"`
	LocationTimeout bool       `json:"location_timeout"`
}

func (p locationPayload) params(sessionID string) (LocationParams, *ValidationError) {
	vErr := &ValidationError{}
	params := LocationParams{
		SessionID:  sessionID,
		Accuracy:   p.Accuracy,
		ClientTime: p.Timestamp.Time,
		Timeout:    p.LocationTimeout,
		Notes:      p.Notes,
	}
	if p.LocationTimeout {
		return params, vErr
	}
	if p.Latitude == nil {
		vErr.add("latitude", "latitude is required unless the location timed out")
	}
	if p.Longitude == nil {
		vErr.add("longitude", "longitude is required unless the location timed out")
	}
	if vErr.HasErrors() {
		return params, vErr
	}
	params.Latitude = *p.Latitude
	params.Longitude = *p.Longitude
	return params, vErr
}

type statusChangePayload struct {
	Reason    string     `json:"reason"`
	Timestamp ClientTime `json:"timestamp"`
}
