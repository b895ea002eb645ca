package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/attendance-attest/internal/persistence"
)

const meetingColumns = `id, name, address, latitude, longitude, radius_meters, is_active, created_at, updated_at`

// MeetingRepository implements persistence.MeetingRepository.
type MeetingRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewMeetingRepository creates a MeetingRepository.
func NewMeetingRepository(pool *ConnectionPool) *MeetingRepository {
	return &MeetingRepository{pool: pool}
}

// CreateMeeting inserts a meeting.
func (r *MeetingRepository) CreateMeeting(ctx context.Context, m persistence.Meeting) error {
	_, err := r.pool.DB().ExecContext(ctx,
		`INSERT INTO meetings (`+meetingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Address, m.Latitude, m.Longitude, m.RadiusMeters, m.IsActive,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// UpdateMeeting replaces the mutable columns of a meeting.
func (r *MeetingRepository) UpdateMeeting(ctx context.Context, m persistence.Meeting) error {
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE meetings SET name = ?, address = ?, latitude = ?, longitude = ?, radius_meters = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, m.Address, m.Latitude, m.Longitude, m.RadiusMeters, m.IsActive, formatTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (r *MeetingRepository) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return m, err
}

// ListMeetings returns meetings ordered by name, then ID.
func (r *MeetingRepository) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if filter.ActiveOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := r.pool.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
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

func scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		m                    persistence.Meeting
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Address, &m.Latitude, &m.Longitude, &m.RadiusMeters, &m.IsActive, &createdAt, &updatedAt); err != nil {
		return persistence.Meeting{}, err
	}
	var err error
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Meeting{}, err
	}
	if m.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Meeting{}, err
	}
	return m, nil
}
