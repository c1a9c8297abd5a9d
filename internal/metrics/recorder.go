// Package metrics provides a small in-process recorder for request
// latency and status-code counts, exposed through the health endpoint.
package metrics

import (
	"math"
	"sort"
	"sync"
)

const defaultWindow = 200

// Recorder keeps a sliding window of request durations and a running
// count of status codes. All methods are safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	window    int
	durations []float64
	next      int
	filled    bool
	statuses  map[int]int64
}

// NewRecorder creates a Recorder keeping the last window durations.
// A window <= 0 uses the default of 200.
func NewRecorder(window int) *Recorder {
	if window <= 0 {
		window = defaultWindow
	}
	return &Recorder{
		window:    window,
		durations: make([]float64, 0, window),
		statuses:  make(map[int]int64),
	}
}

// Record stores one request outcome.
func (r *Recorder) Record(statusCode int, durationMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.durations) < r.window {
		r.durations = append(r.durations, durationMs)
	} else {
		r.durations[r.next] = durationMs
		r.filled = true
	}
	r.next = (r.next + 1) % r.window
	r.statuses[statusCode]++
}

// Snapshot returns aggregate counters and latency percentiles over the
// current window.
func (r *Recorder) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var avg, p95 float64
	if n := len(r.durations); n > 0 {
		sorted := make([]float64, n)
		copy(sorted, r.durations)
		sort.Float64s(sorted)

		var sum float64
		for _, d := range sorted {
			sum += d
		}
		avg = sum / float64(n)

		idx := int(math.Ceil(0.95*float64(n))) - 1
		if idx < 0 {
			idx = 0
		}
		p95 = sorted[idx]
	}

	var total, failures int64
	for code, count := range r.statuses {
		total += count
		if code >= 500 {
			failures += count
		}
	}

	return map[string]float64{
		"requests_total": float64(total),
		"failures_total": float64(failures),
		"latency_avg_ms": math.Round(avg*100) / 100,
		"latency_p95_ms": math.Round(p95*100) / 100,
	}
}
