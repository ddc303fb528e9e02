// Package performance keeps rolling timing averages for the playback stages
// and reports them periodically.
package performance

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RollingAverage maintains a rolling average of durations over a fixed window
type RollingAverage struct {
	samples []time.Duration
	sum     time.Duration
	index   int
	filled  bool
	max     time.Duration
	mu      sync.RWMutex
}

// NewRollingAverage creates a rolling average over the last windowSize samples.
func NewRollingAverage(windowSize int) *RollingAverage {
	if windowSize < 1 {
		windowSize = 1
	}
	return &RollingAverage{samples: make([]time.Duration, windowSize)}
}

// Add records a new sample, evicting the oldest once the window is full.
func (r *RollingAverage) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled {
		r.sum -= r.samples[r.index]
	}
	r.samples[r.index] = d
	r.sum += d
	if d > r.max {
		r.max = d
	}

	r.index++
	if r.index == len(r.samples) {
		r.index = 0
		r.filled = true
	}
}

// Average returns the mean of the samples in the window, or zero.
func (r *RollingAverage) Average() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.count()
	if count == 0 {
		return 0
	}
	return r.sum / time.Duration(count)
}

// Max is the largest sample seen since the last Reset.
func (r *RollingAverage) Max() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max
}

// Count returns the number of samples currently tracked
func (r *RollingAverage) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count()
}

func (r *RollingAverage) count() int {
	if r.filled {
		return len(r.samples)
	}
	return r.index
}

// Reset clears all samples
func (r *RollingAverage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.samples)
	r.sum = 0
	r.max = 0
	r.index = 0
	r.filled = false
}

// Monitor tracks per-stage timings of the playback loop.
type Monitor struct {
	decode       *RollingAverage
	composite    *RollingAverage
	present      *RollingAverage
	frame        *RollingAverage
	frames       int
	dropped      int
	placeholders int
	startTime    time.Time
	mu           sync.RWMutex
}

// Report is a snapshot of the monitor.
type Report struct {
	AvgDecodeMs    float64
	AvgCompositeMs float64
	AvgPresentMs   float64
	AvgFrameMs     float64
	MaxFrameMs     float64
	Frames         int
	Dropped        int
	Placeholders   int
	DropRate       float64 // percent of pictures dropped
	Healthy        bool
	Uptime         time.Duration
}

// NewMonitor averages over the last windowSize frames (120 is two seconds at
// 60 fps).
func NewMonitor(windowSize int) *Monitor {
	return &Monitor{
		decode:    NewRollingAverage(windowSize),
		composite: NewRollingAverage(windowSize),
		present:   NewRollingAverage(windowSize),
		frame:     NewRollingAverage(windowSize),
		startTime: time.Now(),
	}
}

// RecordDecode records the time spent draining one picture from the decoder.
func (m *Monitor) RecordDecode(d time.Duration) {
	m.decode.Add(d)
}

func (m *Monitor) RecordComposite(d time.Duration) {
	m.composite.Add(d)
}

// RecordPresent records one presented frame and the time its present took.
func (m *Monitor) RecordPresent(d time.Duration) {
	m.present.Add(d)

	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

// RecordFrame records the wall time of one whole loop iteration.
func (m *Monitor) RecordFrame(d time.Duration) {
	m.frame.Add(d)
}

// RecordDropped counts a decoded picture that was never presented.
func (m *Monitor) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// RecordPlaceholder counts a frame presented without decoded content.
func (m *Monitor) RecordPlaceholder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeholders++
}

// Report aggregates the current metrics.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dropRate := 0.0
	if total := m.frames + m.dropped; total > 0 {
		dropRate = float64(m.dropped) / float64(total) * 100
	}
	avgFrame := m.frame.Average()

	return Report{
		AvgDecodeMs:    ms(m.decode.Average()),
		AvgCompositeMs: ms(m.composite.Average()),
		AvgPresentMs:   ms(m.present.Average()),
		AvgFrameMs:     ms(avgFrame),
		MaxFrameMs:     ms(m.frame.Max()),
		Frames:         m.frames,
		Dropped:        m.dropped,
		Placeholders:   m.placeholders,
		DropRate:       dropRate,
		// Healthy: under 1% drops and frames within a 30 fps budget.
		Healthy: dropRate < 1 && avgFrame < 33*time.Millisecond,
		Uptime:  time.Since(m.startTime),
	}
}

// Degrading reports drop rates over 5% or stages too slow for 30 fps.
func (m *Monitor) Degrading() bool {
	r := m.Report()
	return r.DropRate > 5 || r.AvgDecodeMs > 30 || r.AvgFrameMs > 40
}

// Log writes the report and a memory snapshot at info level, or warn when
// playback is degrading.
func (m *Monitor) Log(fields logrus.Fields) {
	r := m.Report()
	mem := GetSystemMemory()
	goMem := GetGoMemory()

	entry := logrus.WithFields(fields).WithFields(logrus.Fields{
		"function":     "Monitor.Log",
		"frames":       r.Frames,
		"dropped":      r.Dropped,
		"placeholders": r.Placeholders,
		"decode_ms":    r.AvgDecodeMs,
		"composite_ms": r.AvgCompositeMs,
		"present_ms":   r.AvgPresentMs,
		"frame_ms":     r.AvgFrameMs,
		"max_frame_ms": r.MaxFrameMs,
		"uptime":       r.Uptime.Round(time.Second).String(),
		"mem_avail_mb": mem.AvailableMB,
		"go_alloc_mb":  goMem.AllocMB,
		"pressure":     PressureFor(mem.AvailableMB).String(),
	})
	if m.Degrading() {
		entry.Warn("Playback performance degrading")
		return
	}
	entry.Info("Playback performance")
}

// Reset clears all metrics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decode.Reset()
	m.composite.Reset()
	m.present.Reset()
	m.frame.Reset()
	m.frames = 0
	m.dropped = 0
	m.placeholders = 0
	m.startTime = time.Now()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
