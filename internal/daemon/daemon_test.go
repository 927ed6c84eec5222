package daemon_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"drivewatch/internal/config"
	"drivewatch/internal/daemon"
	"drivewatch/internal/journal"
	"drivewatch/internal/pipeline"
	"drivewatch/internal/testsupport"
)

type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (r *fakeRunner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	return nil
}

func (r *fakeRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *fakeRunner) Status() pipeline.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pipeline.Status{Running: r.starts > r.stops, Frames: 10}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	d, err := daemon.New(cfg, nil, runner, daemon.WithRunID("run-1"))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.RunID != "run-1" || status.Pipeline.Frames != 10 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.StartedAt.IsZero() {
		t.Fatal("expected start time to be recorded")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("lock path = %q, want %q", status.LockFilePath, cfg.LockPath())
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if runner.starts != 1 || runner.stops != 1 {
		t.Fatalf("runner starts=%d stops=%d, want 1/1", runner.starts, runner.stops)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	first, err := daemon.New(cfg, nil, &fakeRunner{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	second, err := daemon.New(cfg, nil, &fakeRunner{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = first.Close()
		_ = second.Close()
	})

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err = second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonReleasesLockWhenPipelineFails(t *testing.T) {
	cfg := testConfig(t)
	failing, err := daemon.New(cfg, nil, &fakeRunner{startErr: errors.New("boom")})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := failing.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	if failing.Running() {
		t.Fatal("daemon should not be running")
	}

	next, err := daemon.New(cfg, nil, &fakeRunner{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = next.Close() })
	if err := next.Start(context.Background()); err != nil {
		t.Fatalf("lock should be free after failed start: %v", err)
	}
}

func TestDaemonCloseRunsClosersInReverse(t *testing.T) {
	cfg := testConfig(t)
	var order []string
	d, err := daemon.New(cfg, nil, &fakeRunner{},
		daemon.WithCloser(closerFunc(func() error { order = append(order, "journal"); return nil })),
		daemon.WithCloser(closerFunc(func() error { order = append(order, "mqtt"); return errors.New("close mqtt") })),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err = d.Close()
	if err == nil || !strings.Contains(err.Error(), "close mqtt") {
		t.Fatalf("expected closer error, got %v", err)
	}
	if strings.Join(order, ",") != "mqtt,journal" {
		t.Fatalf("closer order = %v", order)
	}
	if err := d.Close(); err == nil {
		t.Fatal("expected repeated Close to return the first error")
	}
	if len(order) != 2 {
		t.Fatalf("closers ran again: %v", order)
	}
}

func TestNewRequiresRunner(t *testing.T) {
	if _, err := daemon.New(testConfig(t), nil, nil); err == nil {
		t.Fatal("expected error without runner")
	}
}

func TestDaemonRecentEventsFromJournal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	store := testsupport.MustOpenJournal(t, cfg)
	crossed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, plate := range []string{"ABC123", ""} {
		_, err := store.Record(context.Background(), journal.Entry{
			TrackID:   int64(i + 1),
			Action:    "arriving",
			Side:      "right",
			CrossedAt: crossed.Add(time.Duration(i) * time.Minute),
			Plate:     plate,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	d, err := daemon.New(cfg, nil, &fakeRunner{}, daemon.WithEvents(store, store.Path()))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	entries, err := d.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(entries) != 2 || entries[0].TrackID+entries[1].TrackID != 3 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if d.Status().JournalPath != cfg.Journal.Path {
		t.Fatalf("journal path = %q", d.Status().JournalPath)
	}
}

func TestDaemonRecentEventsWithoutJournal(t *testing.T) {
	d, err := daemon.New(testConfig(t), nil, &fakeRunner{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if _, err := d.RecentEvents(context.Background(), 5); err == nil {
		t.Fatal("expected error when journal is disabled")
	}
}
