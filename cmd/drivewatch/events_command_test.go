package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"drivewatch/internal/api"
	"drivewatch/internal/journal"
	"drivewatch/internal/testsupport"
)

func TestEventsCommandListsJournal(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithJournal())
	store := testsupport.MustOpenJournal(t, env.cfg)
	crossed := time.Now().Add(-2 * time.Hour)
	for i, plate := range []string{"ABC123", ""} {
		if _, err := store.Record(context.Background(), journal.Entry{
			TrackID:   int64(10 + i),
			Action:    "arriving",
			Side:      "right",
			CrossedAt: crossed,
			Samples:   12,
			Plate:     plate,
			CropPath:  "/tmp/crops/20260301T080000.000Z_track10.jpg",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	out, _, err := runCLI(t, []string{"events", "--limit", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	requireContains(t, out, "ABC123")
	requireContains(t, out, "Unknown")
	requireContains(t, out, "2 hours ago")
	requireContains(t, out, "20260301T080000.000Z_track10.jpg")
	requireContains(t, out, "Showing 2 of 2 crossings")

	out, _, err = runCLI(t, []string{"events", "--json", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("events --json: %v", err)
	}
	var resp api.EventListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(resp.Events) != 1 || resp.Events[0].Action != "arriving" {
		t.Fatalf("unexpected events %+v", resp.Events)
	}
}

func TestEventsCommandRequiresJournal(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"events"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "journal disabled") {
		t.Fatalf("expected journal disabled error, got %v", err)
	}
}

func TestRenderEventsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderEvents(&buf, nil, 0, time.Now())
	requireContains(t, buf.String(), "No crossings recorded yet")
}
