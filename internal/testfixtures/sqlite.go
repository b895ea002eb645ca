package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a temporary SQLite storage
// instance for integration-style persistence tests.
type SQLiteHarness struct {
	Meetings persistence.MeetingRepository
	Sessions persistence.SessionRepository
	Syncs    persistence.SyncRecordRepository
	Storage  *sqlite.Storage

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a database in a temporary directory. Close is
// registered with tb, so calling it explicitly is optional.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "attest.db")

	storage, err := sqlite.Open(ctx, sqlite.DefaultConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if _, err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Meetings: storage,
		Sessions: storage,
		Syncs:    storage,
		Storage:  storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
