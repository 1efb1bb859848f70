package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/gamification-engine/internal/persistence"
	"github.com/example/gamification-engine/internal/persistence/sqlite"
)

// SQLiteHarness provides store access backed by a temporary SQLite database
// for integration-style persistence tests.
type SQLiteHarness struct {
	Snapshots persistence.SnapshotStore
	Progress  persistence.ProgressStore

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dir := tb.TempDir()
	path := filepath.Join(dir, "gamification.db")

	store, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate store: %v", err)
	}

	harness := &SQLiteHarness{
		Snapshots: store,
		Progress:  store,
		cleanup: func() {
			_ = store.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
