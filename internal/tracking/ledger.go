package tracking

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"drivewatch/internal/logging"
	"drivewatch/internal/video"
)

const (
	// DefaultFramesBeforePurge is the number of consecutive missed cycles
	// before an object is evicted.
	DefaultFramesBeforePurge = 20
	// DefaultMinClassPercentage is the share of target-class observations an
	// evicted object needs before it is reported.
	DefaultMinClassPercentage = 50.0
)

// Config tunes ledger eviction.
type Config struct {
	TargetClasses      []int
	FramesBeforePurge  int
	MinClassPercentage float64
	// MaxHistory caps the observations kept per object. Zero keeps all.
	MaxHistory int
}

// EvictFunc receives a finished object. The snapshot is owned by the callee.
type EvictFunc func(obj *TrackedObject) error

// Stats summarises ledger activity since construction.
type Stats struct {
	Live             int
	CachedFrames     int
	Evicted          uint64
	Reported         uint64
	ClassFiltered    uint64
	CallbackFailures uint64
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for first/last seen timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger tracks live objects and the HD frames they reference.
type Ledger struct {
	cfg     Config
	targets map[int]struct{}
	onEvict EvictFunc
	logger  *slog.Logger
	now     func() time.Time

	frameID uint64
	objects map[int64]*TrackedObject
	frames  map[uint64]video.Frame
	stats   Stats
}

// NewLedger constructs a ledger. onEvict may be nil.
func NewLedger(cfg Config, onEvict EvictFunc, logger *slog.Logger, opts ...Option) *Ledger {
	if cfg.FramesBeforePurge <= 0 {
		cfg.FramesBeforePurge = DefaultFramesBeforePurge
	}
	if cfg.MinClassPercentage < 0 {
		cfg.MinClassPercentage = 0
	}
	targets := make(map[int]struct{}, len(cfg.TargetClasses))
	for _, id := range cfg.TargetClasses {
		targets[id] = struct{}{}
	}
	l := &Ledger{
		cfg:     cfg,
		targets: targets,
		onEvict: onEvict,
		logger:  logging.NewComponentLogger(logger, "tracking"),
		now:     time.Now,
		objects: make(map[int64]*TrackedObject),
		frames:  make(map[uint64]video.Frame),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Update ingests one cycle of detections and returns the live objects sorted
// by track id. Returned objects belong to the ledger and stay valid until the
// next call; callers must not modify them.
func (l *Ledger) Update(detections []Detection, hd *video.Frame) []*TrackedObject {
	l.frameID++
	frameID := l.frameID
	now := l.now()

	if hd != nil && !hd.Empty() {
		l.frames[frameID] = *hd
	}

	seen := make(map[int64]struct{}, len(detections))
	for _, det := range detections {
		if _, dup := seen[det.TrackID]; dup {
			l.logger.Debug("duplicate track id in detection batch ignored",
				logging.Int64(logging.FieldTrackID, det.TrackID),
				logging.Uint64(logging.FieldFrameID, frameID),
			)
			continue
		}
		seen[det.TrackID] = struct{}{}

		if obj, ok := l.objects[det.TrackID]; ok {
			obj.observe(det, frameID, now)
			obj.trimHistory(l.cfg.MaxHistory)
			continue
		}
		l.objects[det.TrackID] = newTrackedObject(det, frameID, now)
		l.logger.Debug("tracking new object",
			logging.Int64(logging.FieldTrackID, det.TrackID),
			logging.Int("class_id", det.ClassID),
			logging.Uint64(logging.FieldFrameID, frameID),
		)
	}

	var expired []int64
	for id, obj := range l.objects {
		if _, ok := seen[id]; ok {
			continue
		}
		obj.FramesSinceSeen++
		if obj.FramesSinceSeen >= l.cfg.FramesBeforePurge {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)
	for _, id := range expired {
		l.evict(id)
	}

	l.pruneFrames()
	return l.Objects()
}

// AssignFrame attaches an HD frame to the frame id minted by the most recent
// Update. It is a no-op before the first Update.
func (l *Ledger) AssignFrame(frame video.Frame) {
	if l.frameID == 0 || frame.Empty() {
		return
	}
	l.frames[l.frameID] = frame
}

// FramesForObject returns the cached HD frames referenced by a live object,
// in history order.
func (l *Ledger) FramesForObject(trackID int64) []video.Frame {
	obj, ok := l.objects[trackID]
	if !ok {
		return nil
	}
	out := make([]video.Frame, 0, len(obj.observations))
	for _, obs := range obj.observations {
		if frame, ok := l.frames[obs.FrameID]; ok {
			out = append(out, frame)
		}
	}
	return out
}

// Object returns the live object with the given track id.
func (l *Ledger) Object(trackID int64) (*TrackedObject, bool) {
	obj, ok := l.objects[trackID]
	return obj, ok
}

// Objects returns the live objects sorted by track id.
func (l *Ledger) Objects() []*TrackedObject {
	ids := slices.Sorted(maps.Keys(l.objects))
	out := make([]*TrackedObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.objects[id])
	}
	return out
}

// Len returns the number of live objects.
func (l *Ledger) Len() int { return len(l.objects) }

// CurrentFrameID returns the id minted by the most recent Update.
func (l *Ledger) CurrentFrameID() uint64 { return l.frameID }

// CachedFrameIDs returns the HD cache keys in ascending order.
func (l *Ledger) CachedFrameIDs() []uint64 {
	return slices.Sorted(maps.Keys(l.frames))
}

// Stats returns counters for diagnostics.
func (l *Ledger) Stats() Stats {
	s := l.stats
	s.Live = len(l.objects)
	s.CachedFrames = len(l.frames)
	return s
}

// Clear drops every live object and cached frame without invoking the
// eviction callback. The frame id counter keeps running.
func (l *Ledger) Clear() {
	clear(l.objects)
	clear(l.frames)
}

func (l *Ledger) evict(id int64) {
	obj := l.objects[id]
	delete(l.objects, id)
	l.stats.Evicted++

	pct := obj.ClassPercentage(l.targets)
	if pct < l.cfg.MinClassPercentage {
		l.stats.ClassFiltered++
		l.logger.Debug("evicted object below target class threshold",
			logging.Int64(logging.FieldTrackID, id),
			logging.Float64("class_percentage", pct),
			logging.Float64("min_class_percentage", l.cfg.MinClassPercentage),
			logging.Int("samples", obj.Len()),
		)
		return
	}

	l.stats.Reported++
	if l.onEvict == nil {
		return
	}
	snap := obj.snapshot(l.frames)
	if err := l.invoke(snap); err != nil {
		l.stats.CallbackFailures++
		logging.WarnWithContext(l.logger, "eviction callback failed", "eviction_callback_failed",
			logging.Int64(logging.FieldTrackID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the eviction handler logs"),
			logging.String(logging.FieldImpact, "crossing event for this object was not processed"),
		)
	}
}

func (l *Ledger) invoke(obj *TrackedObject) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eviction callback panic: %v", r)
		}
	}()
	return l.onEvict(obj)
}

func (l *Ledger) pruneFrames() {
	if len(l.frames) == 0 {
		return
	}
	referenced := make(map[uint64]struct{})
	for _, obj := range l.objects {
		for _, obs := range obj.observations {
			referenced[obs.FrameID] = struct{}{}
		}
	}
	for id := range l.frames {
		if _, ok := referenced[id]; !ok {
			delete(l.frames, id)
		}
	}
}
