// Package crossing derives arrival/departure events from a finished object's
// position history.
package crossing

import (
	"math"
	"time"

	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

// DefaultLinePercent places the reference line at three quarters of the frame width.
const DefaultLinePercent = 0.75

// Action is the semantic movement of an object.
type Action string

const (
	ActionArriving  Action = "arriving"
	ActionDeparting Action = "departing"
	ActionUnknown   Action = "unknown"
)

// Side is where the object's leading edge started relative to the line.
type Side string

const (
	SideNone  Side = ""
	SideRight Side = "right"
	SideLeft  Side = "left"
)

// Direction is the endpoint displacement of an object.
type Direction struct {
	DeltaX float64
	DeltaY float64
	Start  video.Point
	End    video.Point
}

// Event is the analyzer result for one object.
type Event struct {
	Action    Action
	Direction Direction
	Side      Side
	// CrossedAt is zero when the object never crossed the line.
	CrossedAt       time.Time
	CrossingIndex   int
	CrossingFrameID uint64
}

// Crossed reports whether a line crossing was found.
func (e Event) Crossed() bool { return !e.CrossedAt.IsZero() }

// FromRight reports whether the object started right of the line.
func (e Event) FromRight() bool { return e.Side == SideRight }

// Analyzer is stateless; the zero value needs a FrameWidth before use.
type Analyzer struct {
	FrameWidth  int
	LinePercent float64
}

// NewAnalyzer returns an analyzer for frames of the given width.
func NewAnalyzer(frameWidth int, linePercent float64) Analyzer {
	return Analyzer{FrameWidth: frameWidth, LinePercent: linePercent}
}

// Line returns the x position of the reference line.
func (a Analyzer) Line() float64 {
	pct := a.LinePercent
	if pct <= 0 || pct > 1 {
		pct = DefaultLinePercent
	}
	return float64(a.FrameWidth) * pct
}

// Classify maps an endpoint displacement to an action. Motion towards the
// bottom-left is arriving and towards the top-right is departing; other
// motion follows the dominant axis. No displacement at all falls through to
// the y rule and yields departing.
func Classify(first, last video.Point) Action {
	dx := last.X - first.X
	dy := last.Y - first.Y
	switch {
	case dx < 0 && dy > 0:
		return ActionArriving
	case dx > 0 && dy < 0:
		return ActionDeparting
	case math.Abs(dx) > math.Abs(dy):
		if dx > 0 {
			return ActionDeparting
		}
		return ActionArriving
	case dy > 0:
		return ActionArriving
	default:
		return ActionDeparting
	}
}

// Analyze computes the event for obj without modifying it.
func (a Analyzer) Analyze(obj *tracking.TrackedObject) Event {
	ev := Event{Action: ActionUnknown, CrossingIndex: -1}
	if obj == nil || obj.Len() < 2 {
		return ev
	}

	first := obj.Observation(0).Box.Center()
	last := obj.Observation(obj.Len() - 1).Box.Center()
	ev.Action = Classify(first, last)
	ev.Direction = Direction{
		DeltaX: last.X - first.X,
		DeltaY: last.Y - first.Y,
		Start:  first,
		End:    last,
	}

	idx, fromRight, ok := a.scan(obj)
	if fromRight {
		ev.Side = SideRight
	} else {
		ev.Side = SideLeft
	}
	if !ok {
		return ev
	}
	ev.CrossingIndex = idx
	ev.CrossingFrameID = obj.Observation(idx).FrameID
	step := obj.Duration() / time.Duration(obj.Len())
	ev.CrossedAt = obj.FirstSeen.Add(step * time.Duration(idx))
	return ev
}

// CrossingFrame returns the history index at which the leading edge first
// crossed the line.
func (a Analyzer) CrossingFrame(obj *tracking.TrackedObject) (int, bool) {
	if obj == nil || obj.Len() < 2 {
		return -1, false
	}
	idx, _, ok := a.scan(obj)
	return idx, ok
}

func (a Analyzer) scan(obj *tracking.TrackedObject) (index int, fromRight bool, ok bool) {
	line := a.Line()
	prev := obj.Observation(0).Box.Left()
	fromRight = prev > line
	for i := 1; i < obj.Len(); i++ {
		cur := obj.Observation(i).Box.Left()
		if fromRight && prev > line && cur <= line {
			return i, true, true
		}
		if !fromRight && prev < line && cur >= line {
			return i, false, true
		}
		prev = cur
	}
	return -1, fromRight, false
}
