package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"drivewatch/internal/capture"
	"drivewatch/internal/config"
	"drivewatch/internal/crossing"
	"drivewatch/internal/fps"
	"drivewatch/internal/journal"
	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/services/detector"
	"drivewatch/internal/services/homeassistant"
	"drivewatch/internal/services/ollama"
	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

// Stream names used for sources, logs and notifications.
const (
	StreamLow  = "low"
	StreamHigh = "high"
)

const (
	errorBackoff  = 5 * time.Second
	rebuildDelay  = 2 * time.Second
	defaultQueue  = 16
	defaultWorker = 1
)

// Source is a frame producer. *capture.StreamCapture satisfies it.
type Source interface {
	Grab() bool
	Retrieve() (video.Frame, bool)
	Read() (video.Frame, bool)
	Closed() bool
	Size() (int, int)
	Stats() capture.Stats
	Release() error
}

// SourceFactory opens a fresh source for the named stream.
type SourceFactory func(ctx context.Context, stream string) (Source, error)

// Deps are the collaborators the pipeline drives. Reader, Publisher and
// Journal are optional.
type Deps struct {
	Low       Source
	High      Source
	NewSource SourceFactory
	Detector  detector.Detector
	Reader    ollama.PlateReader
	Publisher homeassistant.PlatePublisher
	Notifier  notifications.Service
	Journal   journal.Recorder
	Logger    *slog.Logger
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithSleeper overrides the pause used for idle and backoff waits.
func WithSleeper(s Sleeper) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Running           bool
	Frames            uint64
	FPS               fps.Stats
	Live              int
	Tracking          tracking.Stats
	Queued            int
	QueueCapacity     int
	DroppedEvictions  uint64
	Processed         uint64
	Crossings         uint64
	PlatesRead        uint64
	DetectorErrors    uint64
	ConsecutiveErrors int
	LastError         string
	Low               capture.Stats
	High              *capture.Stats
}

// Pipeline owns the ingest loop and eviction workers.
type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	sleep  Sleeper
	now    func() time.Time

	ledger   *tracking.Ledger
	monitor  *fps.Monitor
	queue    chan *tracking.TrackedObject
	workers  int
	analyzer crossing.Analyzer

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	low       Source
	high      Source
	lowSize   image.Point
	lastError string
	ledgerSt  tracking.Stats
	live      int

	highRetryAt time.Time

	frames         atomic.Uint64
	dropped        atomic.Uint64
	processed      atomic.Uint64
	crossings      atomic.Uint64
	platesRead     atomic.Uint64
	detectorErrors atomic.Uint64
	consecutive    atomic.Int64
}

// New validates deps and builds a stopped pipeline.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config required")
	}
	if deps.Detector == nil {
		return nil, errors.New("pipeline: detector required")
	}
	if deps.Low == nil && deps.NewSource == nil {
		return nil, errors.New("pipeline: low source or source factory required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	size := cfg.Pipeline.EvictionQueueSize
	if size <= 0 {
		size = defaultQueue
	}
	workers := cfg.Pipeline.EvictionWorkers
	if workers <= 0 {
		workers = defaultWorker
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  logging.NewComponentLogger(logger, "pipeline"),
		sleep:   sleepContext,
		now:     time.Now,
		monitor: fps.NewMonitor(cfg.Pipeline.FPSWindow),
		queue:   make(chan *tracking.TrackedObject, size),
		workers: workers,
		low:     deps.Low,
		high:    deps.High,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ledger = tracking.NewLedger(tracking.Config{
		TargetClasses:      cfg.Tracking.TargetClasses,
		FramesBeforePurge:  cfg.Tracking.FramesBeforePurge,
		MinClassPercentage: cfg.Tracking.MinClassPercentage,
		MaxHistory:         cfg.Tracking.MaxHistory,
	}, p.enqueue, logger, tracking.WithClock(func() time.Time { return p.now() }))

	if p.low != nil {
		p.setLowSize(p.low.Size())
	}
	return p, nil
}

// Start launches the ingest loop and eviction workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1 + p.workers)
	p.mu.Unlock()

	go p.runIngest(runCtx)
	for i := 0; i < p.workers; i++ {
		go p.runWorker(runCtx, i)
	}

	p.logger.Info("pipeline started",
		logging.Int("eviction_workers", p.workers),
		logging.Int("eviction_queue", cap(p.queue)),
		logging.Bool("high_stream", p.cfg.Streams.HasHighStream()),
		logging.Bool("ocr", p.deps.Reader != nil),
		logging.Bool("mqtt", p.deps.Publisher != nil),
		logging.Bool("journal", p.deps.Journal != nil),
	)
	return nil
}

// Stop cancels processing, waits for goroutines and releases sources.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	low, high := p.low, p.high
	p.low, p.high = nil, nil
	p.mu.Unlock()
	for _, src := range []Source{low, high} {
		if src == nil {
			continue
		}
		if err := src.Release(); err != nil {
			p.logger.Debug("source release failed", logging.Error(err))
		}
	}
	p.logger.Info("pipeline stopped",
		logging.Uint64("frames", p.frames.Load()),
		logging.Uint64("crossings", p.crossings.Load()),
	)
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Status returns a snapshot of counters and source health.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	st := Status{
		Running:   p.running,
		LastError: p.lastError,
		Tracking:  p.ledgerSt,
		Live:      p.live,
	}
	low, high := p.low, p.high
	p.mu.RUnlock()

	st.Frames = p.frames.Load()
	st.FPS = p.monitor.Stats()
	st.Queued = len(p.queue)
	st.QueueCapacity = cap(p.queue)
	st.DroppedEvictions = p.dropped.Load()
	st.Processed = p.processed.Load()
	st.Crossings = p.crossings.Load()
	st.PlatesRead = p.platesRead.Load()
	st.DetectorErrors = p.detectorErrors.Load()
	st.ConsecutiveErrors = int(p.consecutive.Load())
	if low != nil {
		st.Low = low.Stats()
	}
	if high != nil {
		hs := high.Stats()
		st.High = &hs
	}
	return st
}

func (p *Pipeline) setLowSize(w, h int) {
	p.mu.Lock()
	p.lowSize = image.Pt(w, h)
	p.analyzer = crossing.NewAnalyzer(w, p.cfg.Crossing.LinePercent)
	p.mu.Unlock()
}

func (p *Pipeline) geometry() (image.Point, crossing.Analyzer) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lowSize, p.analyzer
}

func (p *Pipeline) setLastError(err error) {
	p.mu.Lock()
	if err == nil {
		p.lastError = ""
	} else {
		p.lastError = err.Error()
	}
	p.mu.Unlock()
}

func (p *Pipeline) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := p.deps.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(p.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy topic and network reachability"),
			logging.String(logging.FieldImpact, "operator was not notified"),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func describe(stream string, st capture.Stats) string {
	return fmt.Sprintf("%s stream closed after %d restarts", stream, st.Restarts)
}
