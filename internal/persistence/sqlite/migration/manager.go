package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"
)

// Manager applies pending migrations in version order.
type Manager struct {
	fsys     fs.FS
	dir      string
	executor *Executor
	logger   *slog.Logger
}

// NewManager builds a Manager reading files from dir within fsys.
func NewManager(db *sql.DB, fsys fs.FS, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		fsys:     fsys,
		dir:      dir,
		executor: NewExecutor(db),
		logger:   logger.With("component", "migration"),
	}
}

// Run applies every pending migration and returns the versions it applied.
func (m *Manager) Run(ctx context.Context) ([]string, error) {
	started := time.Now()
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, err
	}

	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil, nil
	}

	applied := make([]string, 0, len(status.Pending))
	for i, mig := range status.Pending {
		m.logger.InfoContext(ctx, "applying migration",
			"version", mig.Version,
			"description", mig.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(status.Pending)),
		)
		if err := m.executor.Execute(ctx, mig); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", mig.Version, "error", err)
			return applied, newMigrationError(mig.Version, mig.FilePath, "execute migration", fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		applied = append(applied, mig.Version)
	}

	m.logger.InfoContext(ctx, "migrations applied", "count", len(applied), "duration", time.Since(started))
	return applied, nil
}

// Status compares the files against schema_migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}

	available, err := Scan(m.fsys, m.dir)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedSet := make(map[int]bool, len(applied))
	status := Status{Applied: applied}
	for _, am := range applied {
		appliedSet[versionNumber(am.Version)] = true
		status.CurrentVersion = am.Version
	}
	for _, mig := range available {
		if !appliedSet[versionNumber(mig.Version)] {
			status.Pending = append(status.Pending, mig)
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the file versions, applied versions without a file,
// and applied files whose content changed.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	for i, mig := range available {
		n := versionNumber(mig.Version)
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		byVersion[n] = mig
	}

	for _, am := range applied {
		mig, ok := byVersion[versionNumber(am.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s has no file", ErrVersionConflict, am.Version)
		}
		if am.Checksum != "" && am.Checksum != mig.Checksum {
			return newMigrationError(mig.Version, mig.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return versionNumber(applied[i].Version) < versionNumber(applied[j].Version)
	})
}
