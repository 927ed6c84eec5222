package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivewatch/internal/capture"
	"drivewatch/internal/config"
	"drivewatch/internal/crossing"
	"drivewatch/internal/journal"
	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/services/homeassistant"
	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

var baseTime = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func testFrame(seq uint64, w, h int) video.Frame {
	return video.Frame{
		Seq:        seq,
		CapturedAt: baseTime.Add(time.Duration(seq) * 100 * time.Millisecond),
		Width:      w,
		Height:     h,
		Data:       make([]byte, video.FrameSize(w, h)),
	}
}

type fakeSource struct {
	mu       sync.Mutex
	width    int
	height   int
	frames   []video.Frame
	endless  bool
	seq      uint64
	closed   bool
	released int
	restarts uint64
}

func newFiniteSource(w, h, count int) *fakeSource {
	s := &fakeSource{width: w, height: h}
	for i := 1; i <= count; i++ {
		s.frames = append(s.frames, testFrame(uint64(i), w, h))
	}
	return s
}

func newEndlessSource(w, h int) *fakeSource {
	return &fakeSource{width: w, height: h, endless: true}
}

func (s *fakeSource) next() (video.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endless {
		s.seq++
		return testFrame(s.seq, s.width, s.height), true
	}
	if len(s.frames) == 0 {
		return video.Frame{}, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func (s *fakeSource) Grab() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endless || len(s.frames) > 0
}

func (s *fakeSource) Retrieve() (video.Frame, bool) { return s.next() }
func (s *fakeSource) Read() (video.Frame, bool)     { return s.next() }
func (s *fakeSource) Size() (int, int)              { return s.width, s.height }

func (s *fakeSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSource) Stats() capture.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capture.Stats{Restarts: s.restarts, Closed: s.closed}
}

func (s *fakeSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

func (s *fakeSource) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDetector struct {
	calls atomic.Int64
	fn    func(frame video.Frame) (tracking.Batch, error)
}

func (d *fakeDetector) Detect(_ context.Context, frame video.Frame) (tracking.Batch, error) {
	d.calls.Add(1)
	return d.fn(frame)
}

type fakeReader struct {
	mu     sync.Mutex
	plate  string
	err    error
	images []image.Image
}

func (r *fakeReader) ReadPlate(_ context.Context, img image.Image) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, img)
	return r.plate, r.err
}

func (r *fakeReader) seen() []image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Image(nil), r.images...)
}

type fakePublisher struct {
	mu       sync.Mutex
	readings []homeassistant.Reading
}

func (p *fakePublisher) PublishPlate(_ context.Context, reading homeassistant.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, reading)
	return nil
}

func (p *fakePublisher) all() []homeassistant.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]homeassistant.Reading(nil), p.readings...)
}

type sentEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{event: event, payload: payload})
	return nil
}

func (n *fakeNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.event == event {
			total++
		}
	}
	return total
}

func (n *fakeNotifier) kinds() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifications.Event, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event)
	}
	return out
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *fakeJournal) Record(_ context.Context, entry journal.Entry) (journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.ID = "entry"
	j.entries = append(j.entries, entry)
	return entry, nil
}

func (j *fakeJournal) all() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (s *recordingSleeper) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, v := range s.delays {
		if v == d {
			total++
		}
	}
	return total
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Streams.LowURL = "rtsp://camera/low"
	cfg.Streams.HighURL = "rtsp://camera/high"
	cfg.Tracking.TargetClasses = []int{2}
	cfg.Tracking.FramesBeforePurge = 2
	cfg.Tracking.MinClassPercentage = 50
	cfg.Crossing.LinePercent = 0.75
	cfg.OCR.MinCropWidth = 320
	cfg.Pipeline.StatsIntervalSeconds = 0
	cfg.Pipeline.EvictionQueueSize = 4
	cfg.Pipeline.EvictionWorkers = 1
	cfg.Pipeline.SaveCrops = false
	return &cfg
}

// arrivingPath moves one car right to left across the line at x=75 of a
// 100px wide frame; the leading edge crosses between the 2nd and 3rd sample.
var arrivingPath = [][]float64{
	{95, 20, 10, 10},
	{85, 22, 10, 10},
	{70, 25, 10, 10},
	{60, 28, 10, 10},
}

func scriptedDetector(path [][]float64) *fakeDetector {
	return &fakeDetector{fn: func(frame video.Frame) (tracking.Batch, error) {
		i := int(frame.Seq) - 1
		if i < 0 || i >= len(path) {
			return tracking.Batch{}, nil
		}
		return tracking.Batch{
			Boxes:    [][]float64{path[i]},
			TrackIDs: []int64{1},
			ClassIDs: []int{2},
		}, nil
	}}
}

func TestPipelineReportsCrossing(t *testing.T) {
	cfg := testConfig()
	low := newFiniteSource(100, 50, 8)
	high := newEndlessSource(200, 100)
	reader := &fakeReader{plate: "ABC123"}
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	store := &fakeJournal{}
	sleeper := &recordingSleeper{}

	p, err := New(cfg, Deps{
		Low:       low,
		High:      high,
		Detector:  scriptedDetector(arrivingPath),
		Reader:    reader,
		Publisher: pub,
		Notifier:  notifier,
		Journal:   store,
		Logger:    logging.NewNop(),
	}, WithSleeper(sleeper.sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return notifier.count(notifications.EventPlateRead) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Status().Frames == 8 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	reading := pub.all()[0]
	assert.Equal(t, "ABC123", reading.Plate)
	assert.Equal(t, string(crossing.ActionArriving), reading.Direction)
	assert.False(t, reading.DetectedAt.IsZero())

	images := reader.seen()
	require.Len(t, images, 1)
	// 10px box doubled to 20px, then upscaled to the minimum crop width.
	assert.Equal(t, 320, images[0].Bounds().Dx())
	assert.Equal(t, 320, images[0].Bounds().Dy())

	entries := store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].TrackID)
	assert.Equal(t, "arriving", entries[0].Action)
	assert.Equal(t, "right", entries[0].Side)
	assert.Equal(t, "ABC123", entries[0].Plate)
	assert.Equal(t, 4, entries[0].Samples)

	st := p.Status()
	assert.False(t, st.Running)
	assert.Equal(t, uint64(8), st.Frames)
	assert.Equal(t, uint64(1), st.Crossings)
	assert.Equal(t, uint64(1), st.PlatesRead)
	assert.Equal(t, uint64(1), st.Processed)
	assert.Equal(t, 1, low.releaseCount())
	assert.Equal(t, 1, high.releaseCount())
}

func TestPipelineUsesLowFrameWithoutHighStream(t *testing.T) {
	cfg := testConfig()
	cfg.Streams.HighURL = ""
	reader := &fakeReader{plate: "XYZ9"}
	pub := &fakePublisher{}

	p, err := New(cfg, Deps{
		Low:       newFiniteSource(100, 50, 8),
		Detector:  scriptedDetector(arrivingPath),
		Reader:    reader,
		Publisher: pub,
		Notifier:  &fakeNotifier{},
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	images := reader.seen()
	require.Len(t, images, 1)
	assert.Equal(t, 320, images[0].Bounds().Dx())
	assert.Equal(t, "XYZ9", pub.all()[0].Plate)
}

func TestPipelinePublishesUnknownWhenReaderFails(t *testing.T) {
	cfg := testConfig()
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}

	p, err := New(cfg, Deps{
		Low:       newFiniteSource(100, 50, 8),
		High:      newEndlessSource(200, 100),
		Detector:  scriptedDetector(arrivingPath),
		Reader:    &fakeReader{err: errors.New("model offline")},
		Publisher: pub,
		Notifier:  notifier,
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	assert.Empty(t, pub.all()[0].Plate)
	assert.Equal(t, uint64(0), p.Status().PlatesRead)
}

func TestPipelinePublishesObjectsThatDoNotCross(t *testing.T) {
	cfg := testConfig()
	pub := &fakePublisher{}
	reader := &fakeReader{plate: "NEVER1"}
	notifier := &fakeNotifier{}
	store := &fakeJournal{}
	// Moves up and to the right but stops well short of x=75.
	path := [][]float64{
		{20, 40, 10, 10},
		{30, 30, 10, 10},
		{40, 20, 10, 10},
	}

	p, err := New(cfg, Deps{
		Low:       newFiniteSource(100, 50, 8),
		High:      newEndlessSource(200, 100),
		Detector:  scriptedDetector(path),
		Reader:    reader,
		Publisher: pub,
		Notifier:  notifier,
		Journal:   store,
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Status().Processed == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	readings := pub.all()
	require.Len(t, readings, 1)
	assert.Empty(t, readings[0].Plate)
	assert.Equal(t, string(crossing.ActionDeparting), readings[0].Direction)
	assert.False(t, readings[0].DetectedAt.IsZero())

	assert.Empty(t, reader.seen())
	assert.Empty(t, store.all())
	assert.Equal(t, 0, notifier.count(notifications.EventPlateRead))
	assert.Equal(t, uint64(0), p.Status().Crossings)
}

func TestPipelineAgesObjectsWhileDetectorFails(t *testing.T) {
	cfg := testConfig()
	pub := &fakePublisher{}
	det := &fakeDetector{fn: func(frame video.Frame) (tracking.Batch, error) {
		i := int(frame.Seq) - 1
		if i >= len(arrivingPath) {
			return tracking.Batch{}, errors.New("connection refused")
		}
		return tracking.Batch{
			Boxes:    [][]float64{arrivingPath[i]},
			TrackIDs: []int64{1},
			ClassIDs: []int{2},
		}, nil
	}}

	p, err := New(cfg, Deps{
		Low:       newEndlessSource(100, 50),
		High:      newEndlessSource(200, 100),
		Detector:  det,
		Reader:    &fakeReader{plate: "OUT4GE"},
		Publisher: pub,
		Notifier:  &fakeNotifier{},
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	reading := pub.all()[0]
	assert.Equal(t, "OUT4GE", reading.Plate)
	assert.Equal(t, string(crossing.ActionArriving), reading.Direction)
	st := p.Status()
	assert.Equal(t, 0, st.Live)
	assert.Positive(t, st.DetectorErrors)
}

func TestPipelineMalformedBatchIsEmptyCycle(t *testing.T) {
	cfg := testConfig()
	det := &fakeDetector{fn: func(video.Frame) (tracking.Batch, error) {
		return tracking.Batch{Boxes: [][]float64{{1, 2, 3, 4}}, TrackIDs: []int64{1, 2}, ClassIDs: []int{2}}, nil
	}}

	p, err := New(cfg, Deps{
		Low:      newFiniteSource(100, 50, 5),
		Detector: det,
		Notifier: &fakeNotifier{},
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return det.calls.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	st := p.Status()
	assert.Equal(t, uint64(5), st.Frames)
	assert.Equal(t, uint64(0), st.DetectorErrors)
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Equal(t, 0, st.Live)
}

func TestPipelineBacksOffAfterConsecutiveDetectorErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConsecutiveErrors = 3
	notifier := &fakeNotifier{}
	sleeper := &recordingSleeper{}
	det := &fakeDetector{fn: func(video.Frame) (tracking.Batch, error) {
		return tracking.Batch{}, errors.New("connection refused")
	}}

	p, err := New(cfg, Deps{
		Low:      newEndlessSource(100, 50),
		Detector: det,
		Notifier: notifier,
	}, WithSleeper(sleeper.sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return sleeper.count(errorBackoff) >= 3 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	assert.Equal(t, 1, notifier.count(notifications.EventError))
	st := p.Status()
	assert.GreaterOrEqual(t, st.ConsecutiveErrors, 6)
	assert.Contains(t, st.LastError, "connection refused")
}

func TestPipelineRecoversAfterDetectorErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.MaxConsecutiveErrors = 2
	det := &fakeDetector{}
	det.fn = func(frame video.Frame) (tracking.Batch, error) {
		if frame.Seq <= 4 {
			return tracking.Batch{}, errors.New("timeout")
		}
		return tracking.Batch{}, nil
	}

	p, err := New(cfg, Deps{
		Low:      newFiniteSource(100, 50, 6),
		Detector: det,
		Notifier: &fakeNotifier{},
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return det.calls.Load() == 6 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	st := p.Status()
	assert.Equal(t, uint64(4), st.DetectorErrors)
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Empty(t, st.LastError)
}

func TestPipelineRebuildsClosedSource(t *testing.T) {
	cfg := testConfig()
	cfg.Streams.HighURL = ""
	dead := newFiniteSource(100, 50, 0)
	dead.closed = true
	dead.restarts = 5
	fresh := newFiniteSource(100, 50, 3)
	notifier := &fakeNotifier{}

	var mu sync.Mutex
	var opened []string
	factory := func(_ context.Context, stream string) (Source, error) {
		mu.Lock()
		defer mu.Unlock()
		opened = append(opened, stream)
		return fresh, nil
	}

	p, err := New(cfg, Deps{
		Low:       dead,
		NewSource: factory,
		Detector:  &fakeDetector{fn: func(video.Frame) (tracking.Batch, error) { return tracking.Batch{}, nil }},
		Notifier:  notifier,
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return notifier.count(notifications.EventStreamRecovered) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	mu.Lock()
	assert.Equal(t, []string{StreamLow}, opened)
	mu.Unlock()
	assert.Equal(t, []notifications.Event{notifications.EventStreamClosed, notifications.EventStreamRecovered}, notifier.kinds())
	assert.Equal(t, 1, dead.releaseCount())
	assert.Equal(t, 1, fresh.releaseCount())
}

func TestPipelineOpensSourcesThroughFactory(t *testing.T) {
	cfg := testConfig()
	low := newFiniteSource(100, 50, 2)
	high := newEndlessSource(200, 100)
	factory := func(_ context.Context, stream string) (Source, error) {
		if stream == StreamHigh {
			return high, nil
		}
		return low, nil
	}
	det := &fakeDetector{fn: func(video.Frame) (tracking.Batch, error) { return tracking.Batch{}, nil }}
	notifier := &fakeNotifier{}

	p, err := New(cfg, Deps{NewSource: factory, Detector: det, Notifier: notifier}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return det.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	st := p.Status()
	p.Stop()

	require.NotNil(t, st.High)
	assert.Empty(t, notifier.kinds())
	assert.Equal(t, 1, low.releaseCount())
	assert.Equal(t, 1, high.releaseCount())
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.EvictionQueueSize = 1
	p, err := New(cfg, Deps{
		Low:      newFiniteSource(100, 50, 0),
		Detector: &fakeDetector{},
		Notifier: &fakeNotifier{},
	})
	require.NoError(t, err)

	obj := tracking.NewSnapshot(7, baseTime, baseTime, nil)
	require.NoError(t, p.enqueue(obj))
	err = p.enqueue(obj)
	require.ErrorIs(t, err, errQueueFull)

	st := p.Status()
	assert.Equal(t, uint64(1), st.DroppedEvictions)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestStartTwiceFails(t *testing.T) {
	p, err := New(testConfig(), Deps{
		Low:      newFiniteSource(100, 50, 0),
		Detector: &fakeDetector{},
		Notifier: &fakeNotifier{},
	}, WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Running())
	assert.Error(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
}

func TestNewRequiresDetectorAndSource(t *testing.T) {
	_, err := New(testConfig(), Deps{Low: newFiniteSource(1, 1, 0)})
	assert.Error(t, err)
	_, err = New(testConfig(), Deps{Detector: &fakeDetector{}})
	assert.Error(t, err)
	_, err = New(nil, Deps{})
	assert.Error(t, err)
}

// evicted runs observations through a real ledger and returns the snapshot it
// hands to the eviction callback. hd selects which cycles carry a 200x100
// frame.
func evicted(t *testing.T, path [][]float64, hd func(i int) bool) *tracking.TrackedObject {
	t.Helper()
	var got *tracking.TrackedObject
	ledger := tracking.NewLedger(tracking.Config{TargetClasses: []int{2}, FramesBeforePurge: 1}, func(obj *tracking.TrackedObject) error {
		got = obj
		return nil
	}, logging.NewNop())
	for i, raw := range path {
		det := tracking.Detection{Box: video.NewBox(raw[0], raw[1], raw[2], raw[3]), ClassID: 2, TrackID: 9}
		ledger.Update([]tracking.Detection{det}, nil)
		if hd(i) {
			ledger.AssignFrame(testFrame(uint64(i+1), 200, 100))
		}
	}
	ledger.Update(nil, nil)
	require.NotNil(t, got)
	return got
}

func TestPlateCropUsesCrossingFrame(t *testing.T) {
	obj := evicted(t, arrivingPath, func(int) bool { return true })
	ev := crossing.NewAnalyzer(100, 0.75).Analyze(obj)
	require.True(t, ev.Crossed())
	require.Equal(t, 2, ev.CrossingIndex)

	obs, frame, ok := crossingObservation(obj, ev)
	require.True(t, ok)
	assert.Equal(t, uint64(3), frame.Seq)
	assert.Equal(t, 70.0, obs.Box.CX)

	img, _, err := plateCrop(obj, ev, image.Pt(100, 50), 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
}

func TestPlateCropFallsBackToLatestFrame(t *testing.T) {
	obj := evicted(t, arrivingPath, func(i int) bool { return i == 0 || i == 1 })
	ev := crossing.NewAnalyzer(100, 0.75).Analyze(obj)
	require.True(t, ev.Crossed())

	obs, frame, ok := crossingObservation(obj, ev)
	require.True(t, ok)
	assert.Equal(t, uint64(2), frame.Seq)
	assert.Equal(t, 85.0, obs.Box.CX)
}

func TestPlateCropWithoutFrames(t *testing.T) {
	obj := evicted(t, arrivingPath, func(int) bool { return false })
	ev := crossing.NewAnalyzer(100, 0.75).Analyze(obj)
	_, _, err := plateCrop(obj, ev, image.Pt(100, 50), 320)
	assert.ErrorIs(t, err, errNoHDFrame)
}

func TestSaveCropWritesJPEG(t *testing.T) {
	cfg := testConfig()
	cfg.Paths.CropsDir = t.TempDir()
	p, err := New(cfg, Deps{Low: newFiniteSource(100, 50, 0), Detector: &fakeDetector{}, Notifier: &fakeNotifier{}})
	require.NoError(t, err)

	path, err := p.saveCrop(3, baseTime, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "20260501T080000.000Z_track3.jpg")
}
