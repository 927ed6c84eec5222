package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"drivewatch/internal/config"
	"drivewatch/internal/deps"
	"drivewatch/internal/journal"
	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/pipeline"
)

// Runner is the processing engine the daemon drives.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Status() pipeline.Status
}

// EventSource lists recent crossings for the status API.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRunID tags status output with the run identifier.
func WithRunID(id string) Option {
	return func(d *Daemon) { d.runID = id }
}

// WithLogPath records the active log file.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// WithDependencies records the dependency snapshot taken at startup.
func WithDependencies(statuses []deps.Status) Option {
	return func(d *Daemon) { d.dependencies = append([]deps.Status(nil), statuses...) }
}

// WithEvents exposes journal entries through the status API.
func WithEvents(src EventSource, path string) Option {
	return func(d *Daemon) {
		d.events = src
		d.journalPath = path
	}
}

// WithCloser registers a resource closed by Close, in reverse order.
func WithCloser(c io.Closer) Option {
	return func(d *Daemon) {
		if c != nil {
			d.closers = append(d.closers, c)
		}
	}
}

// WithNotifier overrides the notification service used for test messages.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) { d.notifier = svc }
}

// Daemon coordinates the pipeline and enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	runner       Runner
	notifier     notifications.Service
	events       EventSource
	dependencies []deps.Status
	closers      []io.Closer
	api          *apiServer

	runID       string
	logPath     string
	journalPath string
	lockPath    string
	lock        *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	startedAt atomic.Int64
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	RunID        string
	StartedAt    time.Time
	LockFilePath string
	LogPath      string
	JournalPath  string
	Pipeline     pipeline.Status
	Dependencies []deps.Status
}

// New constructs a daemon around runner.
func New(cfg *config.Config, logger *slog.Logger, runner Runner, opts ...Option) (*Daemon, error) {
	if cfg == nil || runner == nil {
		return nil, errors.New("daemon requires config and pipeline")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		runner:   runner,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	d.api = newAPIServer(cfg.API, d, logger)
	return d, nil
}

// Start acquires the lock, starts the pipeline and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another drivewatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "status api unavailable", "api_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "change api.bind or stop the process using the port"),
			logging.String(logging.FieldImpact, "'drivewatch status' cannot reach the daemon"),
		)
	}

	d.cancel = cancel
	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("drivewatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldRunID, d.runID),
	)
	return nil
}

// Stop stops processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.runner.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("drivewatch daemon stopped", logging.Duration("uptime", time.Since(d.started()).Round(time.Second)))
}

// Close stops the daemon and closes registered resources.
func (d *Daemon) Close() error {
	d.Stop()
	d.closeOnce.Do(func() {
		var errs []error
		for i := len(d.closers) - 1; i >= 0; i-- {
			if err := d.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Running reports whether the daemon holds the lock and is processing.
func (d *Daemon) Running() bool { return d.running.Load() }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		RunID:        d.runID,
		StartedAt:    d.started(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		JournalPath:  d.journalPath,
		Pipeline:     d.runner.Status(),
		Dependencies: append([]deps.Status(nil), d.dependencies...),
	}
}

func (d *Daemon) started() time.Time {
	ns := d.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RecentEvents returns journaled crossings, newest first.
func (d *Daemon) RecentEvents(ctx context.Context, limit int) ([]journal.Entry, error) {
	if d.events == nil {
		return nil, errors.New("journal disabled")
	}
	return d.events.Recent(ctx, limit)
}

// TestNotification sends a test message through the configured service.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if !notifications.Configured(d.notifier) {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
