package api

import (
	"time"

	"drivewatch/internal/capture"
	"drivewatch/internal/deps"
	"drivewatch/internal/journal"
	"drivewatch/internal/pipeline"
)

// FromPipelineStatus converts a pipeline snapshot to its API form.
func FromPipelineStatus(st pipeline.Status) PipelineStatus {
	dto := PipelineStatus{
		Running:           st.Running,
		Frames:            st.Frames,
		FPS:               st.FPS.FPS,
		FrameIntervalMS:   milliseconds(st.FPS.MeanInterval),
		FrameJitterMS:     milliseconds(st.FPS.StdDev),
		Live:              st.Live,
		CachedFrames:      st.Tracking.CachedFrames,
		Evicted:           st.Tracking.Evicted,
		Reported:          st.Tracking.Reported,
		Queued:            st.Queued,
		QueueCapacity:     st.QueueCapacity,
		DroppedEvictions:  st.DroppedEvictions,
		Crossings:         st.Crossings,
		PlatesRead:        st.PlatesRead,
		DetectorErrors:    st.DetectorErrors,
		ConsecutiveErrors: st.ConsecutiveErrors,
		LastError:         st.LastError,
	}
	dto.Streams = append(dto.Streams, FromCaptureStats(pipeline.StreamLow, st.Low))
	if st.High != nil {
		dto.Streams = append(dto.Streams, FromCaptureStats(pipeline.StreamHigh, *st.High))
	}
	return dto
}

// FromCaptureStats converts capture counters.
func FromCaptureStats(name string, st capture.Stats) StreamStatus {
	return StreamStatus{
		Name:                name,
		Frames:              st.Frames,
		Dropped:             st.Dropped,
		Restarts:            st.Restarts,
		ConsecutiveFailures: st.ConsecutiveFailures,
		Closed:              st.Closed,
		LastFrameAt:         FormatTime(st.LastFrameAt),
	}
}

// FromDependencies converts binary checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromEntry converts a journal entry.
func FromEntry(entry journal.Entry) CrossingEvent {
	return CrossingEvent{
		ID:         entry.ID,
		TrackID:    entry.TrackID,
		Action:     entry.Action,
		Side:       entry.Side,
		Plate:      entry.Plate,
		CrossedAt:  FormatTime(entry.CrossedAt),
		FirstSeen:  FormatTime(entry.FirstSeen),
		LastSeen:   FormatTime(entry.LastSeen),
		Samples:    entry.Samples,
		CropPath:   entry.CropPath,
		RecordedAt: FormatTime(entry.RecordedAt),
	}
}

// FromEntries converts a slice of journal entries.
func FromEntries(entries []journal.Entry) []CrossingEvent {
	out := make([]CrossingEvent, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromEntry(entry))
	}
	return out
}

// ParseTime reverses the timestamp formatting used in payloads.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTime renders t in the payload timestamp format; zero is empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
