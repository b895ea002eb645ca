package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/attendance-attest/internal/persistence"
)

const sessionColumns = `id, contact_id, meeting_id, status, dest_name, dest_address, dest_lat, dest_lng,
	dest_radius_meters, session_notes, is_complete, public_token, public_token_expires_at, version, created_at, updated_at`

const eventColumns = `id, session_id, seq, type, ts_client, ts_server, lat, lng, accuracy, distance_meters, location_flag, notes`

// SessionRepository implements persistence.SessionRepository.
type SessionRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
	retry  *RetryHelper
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool, retry: NewRetryHelper(DefaultRetryConfig())}
}

// CreateSession inserts a session row.
func (r *SessionRepository) CreateSession(ctx context.Context, s persistence.Session) error {
	_, err := r.StartSession(ctx, persistence.SessionStart{Session: s})
	return err
}

// StartSession ends the superseded session, inserts the new one and records the sync item
// in one transaction.
func (r *SessionRepository) StartSession(ctx context.Context, start persistence.SessionStart) (persistence.Session, error) {
	s := start.Session
	if s.Version == 0 {
		s.Version = 1
	}
	var created persistence.Session
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if start.Supersede != nil {
				if _, err := r.commitTransition(ctx, tx, *start.Supersede); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				s.ID, s.ContactID, nullString(s.MeetingID), s.Status, s.DestName, s.DestAddress, s.DestLat, s.DestLng,
				s.DestRadiusMeters, s.Notes, s.IsComplete, nullString(s.PublicToken), nullTime(s.PublicTokenExpiresAt),
				s.Version, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
			); err != nil {
				return r.mapper.MapError(err)
			}
			if start.Sync != nil {
				if err := insertSyncRecord(ctx, tx, *start.Sync); err != nil {
					return r.mapper.MapError(err)
				}
			}

			var err error
			created, err = r.getSession(ctx, tx, `WHERE id = ?`, s.ID)
			return err
		})
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return created, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return r.getSession(ctx, r.pool.DB(), `WHERE id = ?`, id)
}

// GetSessionByToken retrieves a session by public token.
func (r *SessionRepository) GetSessionByToken(ctx context.Context, token string) (persistence.Session, error) {
	if token == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return r.getSession(ctx, r.pool.DB(), `WHERE public_token = ?`, token)
}

// FindOpenSession returns the contact's active or checked-in session.
func (r *SessionRepository) FindOpenSession(ctx context.Context, contactID string) (persistence.Session, error) {
	return r.getSession(ctx, r.pool.DB(), `WHERE contact_id = ? AND status IN ('active', 'checked_in') ORDER BY created_at DESC LIMIT 1`, contactID)
}

// ListEvents returns a session's ledger ordered by server time, then sequence.
func (r *SessionRepository) ListEvents(ctx context.Context, sessionID string) ([]persistence.SessionEvent, error) {
	db := r.pool.DB()
	if _, err := r.getSession(ctx, db, `WHERE id = ?`, sessionID); err != nil {
		return nil, err
	}
	return listEvents(ctx, db, sessionID)
}

// ListSessionsByContact returns the contact's sessions, newest first.
func (r *SessionRepository) ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]persistence.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE contact_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		contactID, limit, offset)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	sessions := []persistence.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CommitTransition writes the event, the session update and the optional sync record in one transaction.
func (r *SessionRepository) CommitTransition(ctx context.Context, tr persistence.Transition) (persistence.Session, error) {
	var updated persistence.Session
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var err error
			updated, err = r.commitTransition(ctx, tx, tr)
			return err
		})
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return updated, nil
}

func (r *SessionRepository) commitTransition(ctx context.Context, tx *sql.Tx, tr persistence.Transition) (persistence.Session, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, is_complete = ?,
		     public_token = COALESCE(?, public_token),
		     public_token_expires_at = COALESCE(?, public_token_expires_at),
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		tr.Status, tr.IsComplete, nullString(tr.PublicToken), nullTime(tr.PublicTokenExpiresAt),
		formatTime(tr.UpdatedAt), tr.SessionID, tr.ExpectedVersion,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Session{}, err
	}
	if affected == 0 {
		current, err := r.getSession(ctx, tx, `WHERE id = ?`, tr.SessionID)
		if err != nil {
			return persistence.Session{}, err
		}
		return persistence.Session{}, fmt.Errorf("sqlite: session %s at version %d, expected %d: %w",
			tr.SessionID, current.Version, tr.ExpectedVersion, persistence.ErrConflict)
	}

	ev := tr.Event
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, tr.SessionID, ev.Seq, ev.Type, nullTime(ev.ClientTime), formatTime(ev.ServerTime),
		nullFloat(ev.Lat), nullFloat(ev.Lng), nullFloat(ev.Accuracy), nullFloat(ev.DistanceMeters),
		nullString(ev.LocationFlag), ev.Notes,
	); err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	if tr.Sync != nil {
		if err := insertSyncRecord(ctx, tx, *tr.Sync); err != nil {
			return persistence.Session{}, r.mapper.MapError(err)
		}
	}

	return r.getSession(ctx, tx, `WHERE id = ?`, tr.SessionID)
}

func (r *SessionRepository) getSession(ctx context.Context, q queryer, where string, args ...any) (persistence.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions `+where, args...)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return s, err
}

func listEvents(ctx context.Context, q queryer, sessionID string) ([]persistence.SessionEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM session_events WHERE session_id = ? ORDER BY ts_server, seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []persistence.SessionEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		s                    persistence.Session
		meetingID, token     sql.NullString
		tokenExpiresAt       sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.ContactID, &meetingID, &s.Status, &s.DestName, &s.DestAddress, &s.DestLat, &s.DestLng,
		&s.DestRadiusMeters, &s.Notes, &s.IsComplete, &token, &tokenExpiresAt, &s.Version, &createdAt, &updatedAt); err != nil {
		return persistence.Session{}, err
	}

	s.MeetingID = stringFromNull(meetingID)
	s.PublicToken = stringFromNull(token)
	var err error
	if s.PublicTokenExpiresAt, err = parseNullTime("public_token_expires_at", tokenExpiresAt); err != nil {
		return persistence.Session{}, err
	}
	if s.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Session{}, err
	}
	if s.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Session{}, err
	}
	return s, nil
}

func scanEvent(row rowScanner) (persistence.SessionEvent, error) {
	var (
		ev                            persistence.SessionEvent
		clientTime, flag              sql.NullString
		serverTime                    string
		lat, lng, accuracy, distanceM sql.NullFloat64
	)
	if err := row.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &ev.Type, &clientTime, &serverTime,
		&lat, &lng, &accuracy, &distanceM, &flag, &ev.Notes); err != nil {
		return persistence.SessionEvent{}, err
	}

	var err error
	if ev.ClientTime, err = parseNullTime("ts_client", clientTime); err != nil {
		return persistence.SessionEvent{}, err
	}
	if ev.ServerTime, err = parseTime("ts_server", serverTime); err != nil {
		return persistence.SessionEvent{}, err
	}
	ev.Lat = floatFromNull(lat)
	ev.Lng = floatFromNull(lng)
	ev.Accuracy = floatFromNull(accuracy)
	ev.DistanceMeters = floatFromNull(distanceM)
	ev.LocationFlag = stringFromNull(flag)
	return ev, nil
}
