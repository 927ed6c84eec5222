// Package fps measures the frame rate of the ingest loop over a sliding
// window of frame timestamps.
package fps

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of frame timestamps retained.
const DefaultWindow = 90

// Stats summarises the current window.
type Stats struct {
	FPS          float64
	MeanInterval time.Duration
	StdDev       time.Duration
	Samples      int
}

// Monitor is a ring buffer of frame timestamps. Safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	ticks []time.Time
	next  int
	full  bool
}

// NewMonitor returns a monitor holding up to window timestamps.
func NewMonitor(window int) *Monitor {
	if window < 2 {
		window = DefaultWindow
	}
	return &Monitor{ticks: make([]time.Time, window)}
}

// Tick records a frame at t.
func (m *Monitor) Tick(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[m.next] = t
	m.next = (m.next + 1) % len(m.ticks)
	if m.next == 0 {
		m.full = true
	}
}

// Reset discards all recorded timestamps.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ticks)
	m.next = 0
	m.full = false
}

// Stats computes frame-rate statistics over the window. Fewer than two
// ticks yield a zero value.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	ordered := m.ordered()
	m.mu.Unlock()

	if len(ordered) < 2 {
		return Stats{Samples: len(ordered)}
	}
	intervals := make([]float64, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		intervals = append(intervals, ordered[i].Sub(ordered[i-1]).Seconds())
	}
	mean, std := stat.MeanStdDev(intervals, nil)
	stats := Stats{
		MeanInterval: seconds(mean),
		StdDev:       seconds(std),
		Samples:      len(ordered),
	}
	if mean > 0 {
		stats.FPS = 1 / mean
	}
	return stats
}

func (m *Monitor) ordered() []time.Time {
	if !m.full {
		return append([]time.Time(nil), m.ticks[:m.next]...)
	}
	out := make([]time.Time, 0, len(m.ticks))
	out = append(out, m.ticks[m.next:]...)
	return append(out, m.ticks[:m.next]...)
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
