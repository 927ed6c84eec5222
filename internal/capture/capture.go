package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"drivewatch/internal/logging"
	"drivewatch/internal/media/ffprobe"
	"drivewatch/internal/video"
)

const (
	// FallbackWidth and FallbackHeight are used when the source cannot be probed.
	FallbackWidth  = 640
	FallbackHeight = 360

	defaultQueueSize     = 2
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 30 * time.Second
	defaultReadTimeout   = time.Second
	defaultStopGrace     = 2 * time.Second
	probeTimeout         = 15 * time.Second
	backoffFactor        = 1.5
)

// Config describes one capture source.
type Config struct {
	Name          string
	URL           string
	Width         int
	Height        int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Transport     string
	FFmpegBinary  string
	FFprobeBinary string
	ReadTimeout   time.Duration
	StopGrace     time.Duration
	QueueSize     int
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimSpace(c.URL)
	if c.Name == "" {
		c.Name = "stream"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Prober discovers the native size of a source.
type Prober func(ctx context.Context, binary, url string, opts ffprobe.Options) (int, int, error)

// Option customises a StreamCapture.
type Option func(*StreamCapture)

// WithLauncher replaces the ffmpeg launcher.
func WithLauncher(l Launcher) Option {
	return func(c *StreamCapture) {
		if l != nil {
			c.launcher = l
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(c *StreamCapture) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithProber replaces the ffprobe size probe.
func WithProber(p Prober) Option {
	return func(c *StreamCapture) {
		if p != nil {
			c.probe = p
		}
	}
}

// Stats is a point-in-time view of capture counters.
type Stats struct {
	Frames              uint64
	Dropped             uint64
	Restarts            uint64
	ConsecutiveFailures int
	Closed              bool
	LastFrameAt         time.Time
}

type procRef struct{ p Process }

// StreamCapture is a self-healing frame source.
type StreamCapture struct {
	cfg      Config
	logger   *slog.Logger
	launcher Launcher
	sleep    Sleeper
	probe    Prober

	width, height int
	frameSize     int

	frames chan video.Frame
	proc   atomic.Pointer[procRef]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closed      atomic.Bool
	seq         atomic.Uint64
	dropped     atomic.Uint64
	restarts    atomic.Uint64
	retries     atomic.Int64
	lastFrameAt atomic.Int64

	releaseOnce sync.Once
	releaseErr  error
}

// Open starts capturing from cfg.URL. The first decoder launch happens
// synchronously; a launch failure is handled by the retry loop rather than
// returned, so Open only fails on invalid configuration.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*StreamCapture, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("capture: source url required")
	}
	c := &StreamCapture{
		cfg:      cfg,
		launcher: FFmpegLauncher{},
		sleep:    sleepContext,
		probe:    ffprobe.VideoSize,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(logger, "capture").With(logging.String(logging.FieldStream, cfg.Name))
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.frames = make(chan video.Frame, cfg.QueueSize)

	c.width, c.height = c.resolveSize()
	c.frameSize = video.FrameSize(c.width, c.height)

	proc, err := c.launch()
	go c.run(proc, err)
	return c, nil
}

func (c *StreamCapture) resolveSize() (int, int) {
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		return c.cfg.Width, c.cfg.Height
	}
	ctx, cancel := context.WithTimeout(c.ctx, probeTimeout)
	defer cancel()
	w, h, err := c.probe(ctx, c.cfg.FFprobeBinary, c.cfg.URL, ffprobe.Options{RTSPTransport: c.cfg.Transport})
	if err != nil || w <= 0 || h <= 0 {
		logging.WarnWithContext(c.logger, "stream probe failed; using fallback frame size", "capture_probe_failed",
			logging.Error(err),
			logging.Int("width", FallbackWidth),
			logging.Int("height", FallbackHeight),
			logging.String(logging.FieldErrorHint, "check the camera URL and that ffprobe is installed"),
			logging.String(logging.FieldImpact, "frames are scaled to the fallback size"),
		)
		return FallbackWidth, FallbackHeight
	}
	c.logger.Info("stream probed", logging.Int("width", w), logging.Int("height", h))
	return w, h
}

func (c *StreamCapture) launch() (Process, error) {
	spec := LaunchSpec{
		Binary:    c.cfg.FFmpegBinary,
		URL:       c.cfg.URL,
		Transport: c.cfg.Transport,
		Width:     c.width,
		Height:    c.height,
		StopGrace: c.cfg.StopGrace,
		Stderr: func(line string) {
			c.logger.Debug("decoder output", logging.String("line", line))
		},
	}
	proc, err := c.launcher.Launch(c.ctx, spec)
	if err != nil {
		return nil, err
	}
	c.proc.Store(&procRef{p: proc})
	return proc, nil
}

func (c *StreamCapture) run(proc Process, launchErr error) {
	defer close(c.done)
	delay := c.cfg.RetryDelay
	for {
		err := launchErr
		if proc != nil {
			err = c.pump(proc, &delay)
			c.stop(proc)
		}
		if c.ctx.Err() != nil {
			return
		}

		retries := c.retries.Add(1)
		if c.cfg.MaxRetries > 0 && retries > int64(c.cfg.MaxRetries) {
			c.closed.Store(true)
			c.logger.Error("stream closed after repeated failures",
				logging.Int64("retries", retries),
				logging.Int("max_retries", c.cfg.MaxRetries),
				logging.Error(err),
				logging.String(logging.FieldEventType, "capture_closed"),
				logging.String(logging.FieldErrorHint, "check camera availability and network"),
			)
			return
		}
		c.logger.Warn("stream disconnected; reconnecting",
			logging.Int64("attempt", retries),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldEventType, "capture_reconnect"),
		)
		if err := c.sleep(c.ctx, delay); err != nil {
			return
		}
		delay = nextDelay(delay, c.cfg.MaxRetryDelay)

		c.restarts.Add(1)
		proc, launchErr = c.launch()
		if launchErr != nil {
			launchErr = fmt.Errorf("launch decoder: %w", launchErr)
		}
	}
}

// pump reads frames until the decoder fails. Each complete frame resets the
// retry counter and backoff delay.
func (c *StreamCapture) pump(proc Process, delay *time.Duration) error {
	stdout := proc.Stdout()
	for {
		buf := make([]byte, c.frameSize)
		n, err := io.ReadFull(stdout, buf)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n == 0) {
				return fmt.Errorf("short read: got %d of %d bytes", n, c.frameSize)
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if c.retries.Swap(0) > 0 {
			c.logger.Info("stream recovered")
		}
		*delay = c.cfg.RetryDelay
		now := time.Now()
		c.lastFrameAt.Store(now.UnixNano())
		c.push(video.Frame{
			Seq:        c.seq.Add(1),
			CapturedAt: now,
			Width:      c.width,
			Height:     c.height,
			Data:       buf,
			Source:     c.cfg.Name,
		})
	}
}

// push enqueues frame, discarding the oldest buffered frame when full.
func (c *StreamCapture) push(frame video.Frame) {
	for {
		select {
		case c.frames <- frame:
			return
		default:
		}
		select {
		case <-c.frames:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *StreamCapture) stop(proc Process) {
	if err := proc.Terminate(); err != nil {
		c.logger.Debug("decoder terminate", logging.Error(err))
	}
	if ref := c.proc.Load(); ref != nil && ref.p == proc {
		c.proc.CompareAndSwap(ref, nil)
	}
}

func nextDelay(current, limit time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > limit {
		return limit
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Grab reports whether a decoded frame is buffered, without consuming it.
func (c *StreamCapture) Grab() bool {
	if c.stopped() {
		return false
	}
	return len(c.frames) > 0
}

// Retrieve consumes the most recent frame, waiting up to ReadTimeout.
func (c *StreamCapture) Retrieve() (video.Frame, bool) {
	if c.stopped() {
		return video.Frame{}, false
	}
	timer := time.NewTimer(c.cfg.ReadTimeout)
	defer timer.Stop()
	select {
	case frame := <-c.frames:
		if c.stopped() {
			return video.Frame{}, false
		}
		return frame, true
	case <-timer.C:
		return video.Frame{}, false
	case <-c.done:
		return video.Frame{}, false
	}
}

// Read is Grab followed by Retrieve.
func (c *StreamCapture) Read() (video.Frame, bool) {
	return c.Retrieve()
}

// IsOpened reports whether the decoder process is alive.
func (c *StreamCapture) IsOpened() bool {
	if c.closed.Load() {
		return false
	}
	ref := c.proc.Load()
	return ref != nil && ref.p.Alive()
}

// Release stops the reader goroutine and terminates the decoder.
func (c *StreamCapture) Release() error {
	c.releaseOnce.Do(func() {
		c.cancel()
		if ref := c.proc.Load(); ref != nil {
			c.releaseErr = ref.p.Terminate()
		}
		<-c.done
		c.drain()
		c.logger.Info("stream released",
			logging.Uint64("frames", c.seq.Load()),
			logging.Uint64("restarts", c.restarts.Load()),
		)
	})
	return c.releaseErr
}

// stopped reports whether the capture was released or permanently closed.
// Buffered frames are not handed out after that.
func (c *StreamCapture) stopped() bool {
	return c.closed.Load() || c.ctx.Err() != nil
}

func (c *StreamCapture) drain() {
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}

// Done is closed once the capture is released or permanently closed.
func (c *StreamCapture) Done() <-chan struct{} { return c.done }

// Closed reports whether the capture gave up after exhausting its retries.
func (c *StreamCapture) Closed() bool { return c.closed.Load() }

// Size returns the decoded frame dimensions.
func (c *StreamCapture) Size() (int, int) { return c.width, c.height }

// Name returns the configured stream name.
func (c *StreamCapture) Name() string { return c.cfg.Name }

// Stats returns current counters.
func (c *StreamCapture) Stats() Stats {
	stats := Stats{
		Frames:              c.seq.Load(),
		Dropped:             c.dropped.Load(),
		Restarts:            c.restarts.Load(),
		ConsecutiveFailures: int(c.retries.Load()),
		Closed:              c.closed.Load(),
	}
	if ns := c.lastFrameAt.Load(); ns > 0 {
		stats.LastFrameAt = time.Unix(0, ns)
	}
	return stats
}
