package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"drivewatch/internal/api"
)

func TestRenderStatusLine(t *testing.T) {
	got := renderStatusLine("Detector", statusOK, "Responding", false)
	want := "  Detector:        [OK] Responding"
	if got != want {
		t.Fatalf("renderStatusLine = %q, want %q", got, want)
	}
	colored := renderStatusLine("Detector", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestStreamRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := streamRows([]api.StreamStatus{
		{Name: "low", Frames: 1500, LastFrameAt: api.FormatTime(now.Add(-5 * time.Second))},
		{Name: "high", Restarts: 3, ConsecutiveFailures: 2},
		{Name: "spare", Closed: true, ConsecutiveFailures: 9},
	}, now)
	want := [][]string{
		{"low", "1,500", "0", "0", "0", "open", "5 seconds ago"},
		{"high", "0", "0", "3", "2", "reconnecting", "never"},
		{"spare", "0", "0", "0", "9", "closed", "never"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("streamRows mismatch (-want +got):\n%s", diff)
	}
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]api.DependencyStatus{
		{Name: "FFmpeg", Command: "ffmpeg", Available: true, Version: "6.1"},
		{Name: "FFprobe", Command: "ffprobe", Optional: true},
	}, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
	requireContains(t, lines[0], "[OK] Ready (ffmpeg 6.1)")
	requireContains(t, lines[1], "[WARN] not available")
	requireContains(t, lines[2], "Missing:")
	requireContains(t, lines[2], "FFprobe")
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"low", "7"}, {"high"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "Name")
	requireContains(t, out, "high")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}
