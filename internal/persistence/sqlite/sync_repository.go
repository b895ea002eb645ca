package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/attendance-attest/internal/persistence"
)

const syncColumns = `local_id, item_type, session_ref, session_id, server_id, payload_digest, result, created_at`

// SyncRecordRepository implements persistence.SyncRecordRepository.
type SyncRecordRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewSyncRecordRepository creates a SyncRecordRepository.
func NewSyncRecordRepository(pool *ConnectionPool) *SyncRecordRepository {
	return &SyncRecordRepository{pool: pool}
}

// GetSyncRecord retrieves a record by local ID.
func (r *SyncRecordRepository) GetSyncRecord(ctx context.Context, localID string) (persistence.SyncRecord, error) {
	return r.get(ctx, `WHERE local_id = ?`, localID)
}

// FindSyncRecordBySessionRef returns the earliest record of itemType created for sessionRef.
func (r *SyncRecordRepository) FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (persistence.SyncRecord, error) {
	return r.get(ctx, `WHERE item_type = ? AND session_ref = ? ORDER BY created_at LIMIT 1`, itemType, sessionRef)
}

// SaveSyncRecord inserts a record; an existing local ID yields persistence.ErrDuplicate.
func (r *SyncRecordRepository) SaveSyncRecord(ctx context.Context, rec persistence.SyncRecord) error {
	return r.mapper.MapError(insertSyncRecord(ctx, r.pool.DB(), rec))
}

func insertSyncRecord(ctx context.Context, q queryer, rec persistence.SyncRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sync_records (`+syncColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LocalID, rec.ItemType, rec.SessionRef, rec.SessionID, rec.ServerID, rec.PayloadDigest,
		string(rec.Result), formatTime(rec.CreatedAt),
	)
	return err
}

func (r *SyncRecordRepository) get(ctx context.Context, where string, args ...any) (persistence.SyncRecord, error) {
	var (
		rec               persistence.SyncRecord
		result, createdAt string
	)
	err := r.pool.DB().QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_records `+where, args...).Scan(
		&rec.LocalID, &rec.ItemType, &rec.SessionRef, &rec.SessionID, &rec.ServerID, &rec.PayloadDigest, &result, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.SyncRecord{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.SyncRecord{}, err
	}
	rec.Result = []byte(result)
	if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.SyncRecord{}, err
	}
	return rec, nil
}
