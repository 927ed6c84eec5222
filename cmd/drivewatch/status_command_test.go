package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drivewatch/internal/api"
	"drivewatch/internal/testsupport"
)

func sampleStatus(now time.Time) api.DaemonStatus {
	return api.DaemonStatus{
		Running:     true,
		PID:         4242,
		RunID:       "run-abc",
		StartedAt:   api.FormatTime(now.Add(-3 * time.Hour)),
		LogPath:     "/var/log/drivewatch/drivewatch.log",
		JournalPath: "/var/lib/drivewatch/events.db",
		Pipeline: api.PipelineStatus{
			Running:         true,
			Frames:          123456,
			FPS:             14.9,
			FrameIntervalMS: 67,
			Live:            2,
			Crossings:       7,
			PlatesRead:      5,
			QueueCapacity:   16,
			Streams: []api.StreamStatus{
				{Name: "low", Frames: 123456, LastFrameAt: api.FormatTime(now.Add(-time.Second))},
				{Name: "high", Frames: 400, Restarts: 2, ConsecutiveFailures: 1},
			},
		},
		Dependencies: []api.DependencyStatus{
			{Name: "FFmpeg", Command: "ffmpeg", Available: true, Version: "6.1"},
			{Name: "FFprobe", Command: "ffprobe", Optional: true, Detail: `binary "ffprobe" not found`},
		},
	}
}

func TestStatusCommandQueriesDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(sampleStatus(time.Now()))
	}))
	defer srv.Close()

	env := setupCLITestEnv(t, testsupport.WithAPIBind(strings.TrimPrefix(srv.URL, "http://")))
	env.cfg.API.Token = "tok"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running (pid 4242, started 3 hours ago)")
	requireContains(t, out, "123,456")
	requireContains(t, out, "7 (5 plates read)")
	requireContains(t, out, "reconnecting")
	requireContains(t, out, "Ready (ffmpeg 6.1)")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var decoded api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &decoded); err != nil || decoded.PID != 4242 {
		t.Fatalf("unexpected json %q (%v)", out, err)
	}
}

func TestStatusCommandDaemonNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	bind := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	env := setupCLITestEnv(t, testsupport.WithAPIBind(bind))
	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
}

func TestStatusCommandRequiresAPI(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "api.bind") {
		t.Fatalf("expected disabled api error, got %v", err)
	}
}

func TestDetectorLine(t *testing.T) {
	line := detectorLine(api.PipelineStatus{ConsecutiveErrors: 31, LastError: "connection refused"}, false)
	if !strings.Contains(line, "[ERROR] 31 consecutive errors: connection refused") {
		t.Fatalf("unexpected detector line %q", line)
	}
}

func TestRenderDaemonStatusStopped(t *testing.T) {
	var buf bytes.Buffer
	renderDaemonStatus(&buf, api.DaemonStatus{}, time.Now(), false)
	requireContains(t, buf.String(), "[WARN] Stopped")
	requireContains(t, buf.String(), "Disabled")
}
