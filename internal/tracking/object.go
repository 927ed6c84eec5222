package tracking

import (
	"slices"
	"time"

	"drivewatch/internal/video"
)

// Observation is one sighting of a tracked object.
type Observation struct {
	Box     video.Box
	ClassID int
	FrameID uint64
}

// TrackedObject is the history of one physical object under observation.
// Track ids are only unique for the lifetime of one object; the detector
// recycles them.
type TrackedObject struct {
	TrackID         int64
	FirstSeen       time.Time
	LastSeen        time.Time
	FramesSinceSeen int

	observations []Observation
	frames       map[uint64]video.Frame
}

func newTrackedObject(det Detection, frameID uint64, now time.Time) *TrackedObject {
	return &TrackedObject{
		TrackID:   det.TrackID,
		FirstSeen: now,
		LastSeen:  now,
		observations: []Observation{{
			Box:     det.Box,
			ClassID: det.ClassID,
			FrameID: frameID,
		}},
	}
}

func (o *TrackedObject) observe(det Detection, frameID uint64, now time.Time) {
	o.LastSeen = now
	o.FramesSinceSeen = 0
	o.observations = append(o.observations, Observation{
		Box:     det.Box,
		ClassID: det.ClassID,
		FrameID: frameID,
	})
}

// trimHistory drops the oldest observations beyond limit. FirstSeen moves
// forward by the trimmed share of the duration so uniform-spacing timestamp
// interpolation stays consistent with the retained samples.
func (o *TrackedObject) trimHistory(limit int) {
	n := len(o.observations)
	if limit <= 0 || n <= limit {
		return
	}
	drop := n - limit
	step := o.Duration() / time.Duration(n)
	o.FirstSeen = o.FirstSeen.Add(step * time.Duration(drop))
	o.observations = slices.Clone(o.observations[drop:])
}

// Len returns the number of recorded observations.
func (o *TrackedObject) Len() int { return len(o.observations) }

// Duration is the wall-clock span between the first and last sighting.
func (o *TrackedObject) Duration() time.Duration {
	return o.LastSeen.Sub(o.FirstSeen)
}

// Observations returns a copy of the history.
func (o *TrackedObject) Observations() []Observation {
	return slices.Clone(o.observations)
}

// Observation returns the i-th observation.
func (o *TrackedObject) Observation(i int) Observation {
	return o.observations[i]
}

// Boxes returns the box history in insertion order.
func (o *TrackedObject) Boxes() []video.Box {
	out := make([]video.Box, len(o.observations))
	for i, obs := range o.observations {
		out[i] = obs.Box
	}
	return out
}

// ClassIDs returns the class id history, parallel to Boxes.
func (o *TrackedObject) ClassIDs() []int {
	out := make([]int, len(o.observations))
	for i, obs := range o.observations {
		out[i] = obs.ClassID
	}
	return out
}

// FrameIDs returns the logical frame ids, parallel to Boxes.
func (o *TrackedObject) FrameIDs() []uint64 {
	out := make([]uint64, len(o.observations))
	for i, obs := range o.observations {
		out[i] = obs.FrameID
	}
	return out
}

// ClassPercentage returns the share (0-100) of observations whose class id is
// in targets. An empty target set accepts every class.
func (o *TrackedObject) ClassPercentage(targets map[int]struct{}) float64 {
	if len(o.observations) == 0 {
		return 0
	}
	if len(targets) == 0 {
		return 100
	}
	hits := 0
	for _, obs := range o.observations {
		if _, ok := targets[obs.ClassID]; ok {
			hits++
		}
	}
	return float64(hits) * 100 / float64(len(o.observations))
}

// HDFrame returns the high resolution frame attached to frameID. Only
// snapshots handed to the eviction callback carry frames.
func (o *TrackedObject) HDFrame(frameID uint64) (video.Frame, bool) {
	frame, ok := o.frames[frameID]
	return frame, ok
}

// HDFrames returns the attached frames in history order.
func (o *TrackedObject) HDFrames() []video.Frame {
	out := make([]video.Frame, 0, len(o.frames))
	for _, obs := range o.observations {
		if frame, ok := o.frames[obs.FrameID]; ok {
			out = append(out, frame)
		}
	}
	return out
}

// snapshot deep-copies the object and attaches the referenced frames. Frame
// pixel buffers are shared since frames are immutable.
func (o *TrackedObject) snapshot(cache map[uint64]video.Frame) *TrackedObject {
	cp := &TrackedObject{
		TrackID:         o.TrackID,
		FirstSeen:       o.FirstSeen,
		LastSeen:        o.LastSeen,
		FramesSinceSeen: o.FramesSinceSeen,
		observations:    slices.Clone(o.observations),
	}
	for _, obs := range o.observations {
		if frame, ok := cache[obs.FrameID]; ok {
			if cp.frames == nil {
				cp.frames = make(map[uint64]video.Frame)
			}
			cp.frames[obs.FrameID] = frame
		}
	}
	return cp
}

// NewSnapshot builds a detached object from a recorded history. It is used by
// tooling and tests that replay histories through the analyzer.
func NewSnapshot(trackID int64, firstSeen, lastSeen time.Time, observations []Observation) *TrackedObject {
	return &TrackedObject{
		TrackID:      trackID,
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
		observations: slices.Clone(observations),
	}
}
