package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"drivewatch/internal/journal"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "state", "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)

	first, err := store.Record(ctx, journal.Entry{
		TrackID:    3,
		Action:     "arriving",
		Side:       "right",
		CrossedAt:  base.Add(1500 * time.Millisecond),
		FirstSeen:  base,
		LastSeen:   base.Add(3 * time.Second),
		Samples:    24,
		Plate:      "ABC123",
		CropPath:   "/tmp/crop.jpg",
		RecordedAt: base.Add(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	second, err := store.Record(ctx, journal.Entry{
		TrackID:    4,
		Action:     "departing",
		FirstSeen:  base.Add(time.Minute),
		LastSeen:   base.Add(time.Minute + time.Second),
		RecordedAt: base.Add(time.Minute + 2*time.Second),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if diff := cmp.Diff(second, entries[0]); diff != "" {
		t.Fatalf("newest entry mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, entries[1]); diff != "" {
		t.Fatalf("oldest entry mismatch (-want +got):\n%s", diff)
	}
	if entries[0].PlateRead() || !entries[1].PlateRead() {
		t.Fatalf("unexpected plate read flags")
	}
	if !entries[0].CrossedAt.IsZero() {
		t.Fatalf("expected absent crossing time, got %v", entries[0].CrossedAt)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 2 {
		t.Fatalf("Count = %d, %v", count, err)
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != second.ID {
		t.Fatalf("expected limit to return newest entry, got %v %v", limited, err)
	}
}

func TestRecordRequiresAction(t *testing.T) {
	store := openStore(t)
	if _, err := store.Record(context.Background(), journal.Entry{TrackID: 1}); err == nil {
		t.Fatal("expected error without action")
	}
}

func TestGetAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).UTC()
	stale, err := store.Record(ctx, journal.Entry{Action: "arriving", RecordedAt: old, FirstSeen: old, LastSeen: old})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	fresh, err := store.Record(ctx, journal.Entry{Action: "departing"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, stale.ID)
	if err != nil || got == nil || got.Action != "arriving" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected missing entry, got %+v, %v", missing, err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Prune = %d, %v", removed, err)
	}
	entries, err := store.Recent(ctx, 10)
	if err != nil || len(entries) != 1 || entries[0].ID != fresh.ID {
		t.Fatalf("expected only fresh entry, got %+v, %v", entries, err)
	}
}

func TestReopenKeepsEntriesAndRejectsOtherSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Record(context.Background(), journal.Entry{Action: "arriving"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	store, err = journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	count, err := store.Count(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected persisted entry, got %d, %v", count, err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := journal.Open(path); !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
