// Package postgres implements the persistence repositories on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/attendance-attest/internal/persistence"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const sessionColumns = `id, contact_id, meeting_id, status, dest_name, dest_address, dest_lat, dest_lng,
	dest_radius_meters, session_notes, is_complete, public_token, public_token_expires_at, version, created_at, updated_at`

const eventColumns = `id, session_id, seq, type, ts_client, ts_server, lat, lng, accuracy, distance_meters, location_flag, notes`

const meetingColumns = `id, name, address, latitude, longitude, radius_meters, is_active, created_at, updated_at`

const syncColumns = `local_id, item_type, session_ref, session_id, server_id, payload_digest, result, created_at`

// Store implements persistence.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ persistence.Store = (*Store)(nil)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- MeetingRepository implementation ---

// CreateMeeting inserts a meeting.
func (s *Store) CreateMeeting(ctx context.Context, m persistence.Meeting) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meetings (`+meetingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Name, m.Address, m.Latitude, m.Longitude, m.RadiusMeters, m.IsActive, m.CreatedAt, m.UpdatedAt)
	return mapError(err)
}

// UpdateMeeting replaces the mutable columns of a meeting.
func (s *Store) UpdateMeeting(ctx context.Context, m persistence.Meeting) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meetings SET name = $1, address = $2, latitude = $3, longitude = $4, radius_meters = $5, is_active = $6, updated_at = $7
		 WHERE id = $8`,
		m.Name, m.Address, m.Latitude, m.Longitude, m.RadiusMeters, m.IsActive, m.UpdatedAt, m.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	m, err := scanMeeting(s.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	return m, mapError(err)
}

// ListMeetings returns meetings ordered by name, then ID.
func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if filter.ActiveOnly {
		query += ` WHERE is_active`
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY name, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var meetings []persistence.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// --- SessionRepository implementation ---

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess persistence.Session) error {
	_, err := s.StartSession(ctx, persistence.SessionStart{Session: sess})
	return err
}

// StartSession ends the superseded session, inserts the new one and records the sync item
// in one transaction.
func (s *Store) StartSession(ctx context.Context, start persistence.SessionStart) (persistence.Session, error) {
	sess := start.Session
	if sess.Version == 0 {
		sess.Version = 1
	}
	var created persistence.Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if start.Supersede != nil {
			if _, err := commitTransition(ctx, tx, *start.Supersede); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			sess.ID, sess.ContactID, sess.MeetingID, sess.Status, sess.DestName, sess.DestAddress, sess.DestLat, sess.DestLng,
			sess.DestRadiusMeters, sess.Notes, sess.IsComplete, sess.PublicToken, sess.PublicTokenExpiresAt, sess.Version,
			sess.CreatedAt, sess.UpdatedAt); err != nil {
			return mapError(err)
		}
		if start.Sync != nil {
			if err := insertSyncRecord(ctx, tx, *start.Sync); err != nil {
				return err
			}
		}

		var err error
		created, err = getSession(ctx, tx, `WHERE id = $1`, sess.ID)
		return err
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return created, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, s.pool, `WHERE id = $1`, id)
}

// GetSessionByToken retrieves a session by public token.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (persistence.Session, error) {
	if token == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return getSession(ctx, s.pool, `WHERE public_token = $1`, token)
}

// FindOpenSession returns the contact's active or checked-in session.
func (s *Store) FindOpenSession(ctx context.Context, contactID string) (persistence.Session, error) {
	return getSession(ctx, s.pool, `WHERE contact_id = $1 AND status IN ('active', 'checked_in') ORDER BY created_at DESC LIMIT 1`, contactID)
}

// ListEvents returns a session's ledger ordered by server time, then sequence.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]persistence.SessionEvent, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM session_events WHERE session_id = $1 ORDER BY ts_server, seq`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	events := []persistence.SessionEvent{}
	for rows.Next() {
		var ev persistence.SessionEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &ev.Type, &ev.ClientTime, &ev.ServerTime,
			&ev.Lat, &ev.Lng, &ev.Accuracy, &ev.DistanceMeters, &ev.LocationFlag, &ev.Notes); err != nil {
			return nil, err
		}
		ev.ServerTime = ev.ServerTime.UTC()
		ev.ClientTime = utcPtr(ev.ClientTime)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListSessionsByContact returns the contact's sessions, newest first.
func (s *Store) ListSessionsByContact(ctx context.Context, contactID string, limit, offset int) ([]persistence.Session, error) {
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE contact_id = $1 ORDER BY created_at DESC, id DESC OFFSET $2`
	args := []any{contactID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := []persistence.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CommitTransition writes the event, the session update and the optional sync record in one transaction.
func (s *Store) CommitTransition(ctx context.Context, tr persistence.Transition) (persistence.Session, error) {
	var updated persistence.Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		updated, err = commitTransition(ctx, tx, tr)
		return err
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return updated, nil
}

func commitTransition(ctx context.Context, tx pgx.Tx, tr persistence.Transition) (persistence.Session, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE sessions
		 SET status = $1, is_complete = $2,
		     public_token = COALESCE($3, public_token),
		     public_token_expires_at = COALESCE($4, public_token_expires_at),
		     version = version + 1, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		tr.Status, tr.IsComplete, tr.PublicToken, tr.PublicTokenExpiresAt, tr.UpdatedAt, tr.SessionID, tr.ExpectedVersion)
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		current, err := getSession(ctx, tx, `WHERE id = $1`, tr.SessionID)
		if err != nil {
			return persistence.Session{}, err
		}
		return persistence.Session{}, fmt.Errorf("postgres: session %s at version %d, expected %d: %w",
			tr.SessionID, current.Version, tr.ExpectedVersion, persistence.ErrConflict)
	}

	ev := tr.Event
	if _, err := tx.Exec(ctx,
		`INSERT INTO session_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, tr.SessionID, ev.Seq, ev.Type, ev.ClientTime, ev.ServerTime,
		ev.Lat, ev.Lng, ev.Accuracy, ev.DistanceMeters, ev.LocationFlag, ev.Notes); err != nil {
		return persistence.Session{}, mapError(err)
	}
	if tr.Sync != nil {
		if err := insertSyncRecord(ctx, tx, *tr.Sync); err != nil {
			return persistence.Session{}, err
		}
	}

	return getSession(ctx, tx, `WHERE id = $1`, tr.SessionID)
}

// --- SyncRecordRepository implementation ---

// GetSyncRecord retrieves a record by local ID.
func (s *Store) GetSyncRecord(ctx context.Context, localID string) (persistence.SyncRecord, error) {
	return s.getSyncRecord(ctx, `WHERE local_id = $1`, localID)
}

// FindSyncRecordBySessionRef returns the earliest record of itemType created for sessionRef.
func (s *Store) FindSyncRecordBySessionRef(ctx context.Context, itemType, sessionRef string) (persistence.SyncRecord, error) {
	return s.getSyncRecord(ctx, `WHERE item_type = $1 AND session_ref = $2 ORDER BY created_at LIMIT 1`, itemType, sessionRef)
}

// SaveSyncRecord inserts a record; an existing local ID yields persistence.ErrDuplicate.
func (s *Store) SaveSyncRecord(ctx context.Context, rec persistence.SyncRecord) error {
	return insertSyncRecord(ctx, s.pool, rec)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertSyncRecord(ctx context.Context, q execer, rec persistence.SyncRecord) error {
	_, err := q.Exec(ctx,
		`INSERT INTO sync_records (`+syncColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.LocalID, rec.ItemType, rec.SessionRef, rec.SessionID, rec.ServerID, rec.PayloadDigest, rec.Result, rec.CreatedAt)
	return mapError(err)
}

func (s *Store) getSyncRecord(ctx context.Context, where string, args ...any) (persistence.SyncRecord, error) {
	var rec persistence.SyncRecord
	err := s.pool.QueryRow(ctx, `SELECT `+syncColumns+` FROM sync_records `+where, args...).Scan(
		&rec.LocalID, &rec.ItemType, &rec.SessionRef, &rec.SessionID, &rec.ServerID, &rec.PayloadDigest, &rec.Result, &rec.CreatedAt)
	if err != nil {
		return persistence.SyncRecord{}, mapError(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSession(ctx context.Context, q querier, where string, args ...any) (persistence.Session, error) {
	sess, err := scanSession(q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions `+where, args...))
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	return sess, nil
}

func scanSession(row pgx.Row) (persistence.Session, error) {
	var sess persistence.Session
	if err := row.Scan(&sess.ID, &sess.ContactID, &sess.MeetingID, &sess.Status, &sess.DestName, &sess.DestAddress, &sess.DestLat, &sess.DestLng,
		&sess.DestRadiusMeters, &sess.Notes, &sess.IsComplete, &sess.PublicToken, &sess.PublicTokenExpiresAt, &sess.Version,
		&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return persistence.Session{}, err
	}
	sess.PublicTokenExpiresAt = utcPtr(sess.PublicTokenExpiresAt)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return sess, nil
}

func scanMeeting(row pgx.Row) (persistence.Meeting, error) {
	var m persistence.Meeting
	if err := row.Scan(&m.ID, &m.Name, &m.Address, &m.Latitude, &m.Longitude, &m.RadiusMeters, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return persistence.Meeting{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", persistence.ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", persistence.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
