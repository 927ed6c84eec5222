package testsupport

import (
	"testing"

	"drivewatch/internal/config"
	"drivewatch/internal/journal"
)

// MustOpenJournal opens the journal at cfg.Journal.Path and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
