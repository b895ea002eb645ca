package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	execution_time_ms INTEGER NOT NULL DEFAULT 0
)`

// Executor runs migrations against a database/sql handle.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor returns an Executor using the wall clock.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates schema_migrations when missing.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, createVersionTable); err != nil {
		return newDatabaseError("", createVersionTable, "create schema_migrations table", err)
	}
	return nil
}

// Execute applies every statement of m and records it, all in one transaction.
func (e *Executor) Execute(ctx context.Context, m Migration) (err error) {
	statements := splitStatements(m.SQL)
	if len(statements) == 0 {
		return newMigrationError(m.Version, m.FilePath, "parse SQL", fmt.Errorf("%w: no SQL statements", ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newDatabaseError(m.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newDatabaseError(m.Version, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
		}
	}

	const record = `INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`
	elapsed := e.now().Sub(started)
	if _, execErr := tx.ExecContext(ctx, record, m.Version, e.now().UTC().Format(time.RFC3339), m.Checksum, elapsed.Milliseconds()); execErr != nil {
		return newDatabaseError(m.Version, record, "record migration", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return newDatabaseError(m.Version, "", "commit transaction", commitErr)
	}
	return nil
}

// Applied returns the rows of schema_migrations ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	const query = `SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations`
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newDatabaseError("", query, "list applied migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			am        AppliedMigration
			appliedAt string
			elapsedMS int64
		)
		if err := rows.Scan(&am.Version, &appliedAt, &am.Checksum, &elapsedMS); err != nil {
			return nil, newDatabaseError("", query, "scan applied migration", err)
		}
		if am.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, newDatabaseError(am.Version, query, "parse applied_at", err)
		}
		am.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
		applied = append(applied, am)
	}
	if err := rows.Err(); err != nil {
		return nil, newDatabaseError("", query, "iterate applied migrations", err)
	}

	sortApplied(applied)
	return applied, nil
}
