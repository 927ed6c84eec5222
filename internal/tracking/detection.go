package tracking

import (
	"errors"
	"fmt"

	"drivewatch/internal/video"
)

// Detection is a single detector observation for one frame.
type Detection struct {
	Box        video.Box
	ClassID    int
	TrackID    int64
	Confidence float64
}

// Validate rejects detections that cannot be tracked.
func (d Detection) Validate() error {
	if !d.Box.Finite() {
		return errors.New("box contains non-finite values")
	}
	if d.Box.W < 0 || d.Box.H < 0 {
		return fmt.Errorf("box size %gx%g is negative", d.Box.W, d.Box.H)
	}
	if d.ClassID < 0 {
		return fmt.Errorf("class id %d is negative", d.ClassID)
	}
	return nil
}

// Batch is the parallel-list payload most detectors emit for one frame.
type Batch struct {
	Boxes       [][]float64 `json:"boxes"`
	TrackIDs    []int64     `json:"track_ids"`
	ClassIDs    []int       `json:"class_ids"`
	Confidences []float64   `json:"confidences,omitempty"`
}

// ErrMalformedBatch marks detector payloads whose lists disagree.
var ErrMalformedBatch = errors.New("malformed detection batch")

// Detections converts the batch into validated records. A batch without track
// ids yields no detections: the detector has not associated boxes with tracks
// yet. Any structural problem rejects the whole batch so one bad row cannot
// shift the remaining rows onto the wrong track.
func (b Batch) Detections() ([]Detection, error) {
	if len(b.Boxes) == 0 || len(b.TrackIDs) == 0 {
		return nil, nil
	}
	if len(b.TrackIDs) != len(b.Boxes) || len(b.ClassIDs) != len(b.Boxes) {
		return nil, fmt.Errorf("%w: %d boxes, %d track ids, %d class ids",
			ErrMalformedBatch, len(b.Boxes), len(b.TrackIDs), len(b.ClassIDs))
	}
	if len(b.Confidences) != 0 && len(b.Confidences) != len(b.Boxes) {
		return nil, fmt.Errorf("%w: %d boxes, %d confidences", ErrMalformedBatch, len(b.Boxes), len(b.Confidences))
	}

	out := make([]Detection, 0, len(b.Boxes))
	for i, raw := range b.Boxes {
		if len(raw) != 4 {
			return nil, fmt.Errorf("%w: box %d has %d values", ErrMalformedBatch, i, len(raw))
		}
		det := Detection{
			Box:     video.NewBox(raw[0], raw[1], raw[2], raw[3]),
			ClassID: b.ClassIDs[i],
			TrackID: b.TrackIDs[i],
		}
		if len(b.Confidences) != 0 {
			det.Confidence = b.Confidences[i]
		}
		if err := det.Validate(); err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", ErrMalformedBatch, i, err)
		}
		out = append(out, det)
	}
	return out, nil
}
