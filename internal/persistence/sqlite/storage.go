// Package sqlite implements the persistence repositories on SQLite through database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed width so that lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*MeetingRepository
	*SessionRepository
	*SyncRecordRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database described by config. Call Migrate before use.
func Open(ctx context.Context, config Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		MeetingRepository:    NewMeetingRepository(pool),
		SessionRepository:    NewSessionRepository(pool),
		SyncRecordRepository: NewSyncRecordRepository(pool),
		pool:                 pool,
		logger:               logger,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) ([]string, error) {
	return migration.NewManager(s.pool.DB(), migrationFiles, "migrations", s.logger).Run(ctx)
}

// MigrationStatus reports applied and pending migrations.
func (s *Storage) MigrationStatus(ctx context.Context) (migration.Status, error) {
	return migration.NewManager(s.pool.DB(), migrationFiles, "migrations", s.logger).Status(ctx)
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.DB().PingContext(ctx)
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse %s: %w", column, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(column string, value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(column, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringFromNull(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatFromNull(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
