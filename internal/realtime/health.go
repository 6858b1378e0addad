package realtime

import (
	"sync"
	"time"
)

// HealthSnapshot is a value copy of the process-wide connection statistics.
type HealthSnapshot struct {
	TotalAdmitted  uint64        `json:"totalAdmitted"`
	Active         int64         `json:"active"`
	TotalClosed    uint64        `json:"totalClosed"`
	TotalErrors    uint64        `json:"totalErrors"`
	PeakConcurrent int64         `json:"peakConcurrent"`
	AvgDuration    time.Duration `json:"avgDurationNs"`
}

// HealthMonitor aggregates connection lifecycle statistics. It makes no
// control-flow decisions; the Registry is the only writer through
// RecordStart/RecordEnd, which keeps double-counting impossible as long as
// close stays idempotent. The average duration is a Welford-style running
// mean so memory stays bounded regardless of connection count.
type HealthMonitor struct {
	mu           sync.Mutex
	admitted     uint64
	closed       uint64
	active       int64
	peak         int64
	errors       uint64
	meanDuration float64
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{}
}

// RecordStart counts an admission and updates the concurrency peak.
func (h *HealthMonitor) RecordStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.admitted++
	h.active++
	if h.active > h.peak {
		h.peak = h.active
	}
}

// RecordEnd counts a closure and folds the connection's duration into the
// running mean. The active count is floored at zero in case a double-call
// ever slips past the idempotent-close guard.
func (h *HealthMonitor) RecordEnd(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	if h.active > 0 {
		h.active--
	}
	h.meanDuration += (duration.Seconds() - h.meanDuration) / float64(h.closed)
}

// RecordError counts an abnormal termination.
func (h *HealthMonitor) RecordError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors++
}

// Snapshot returns a value copy, safe to call concurrently with writers.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		TotalAdmitted:  h.admitted,
		Active:         h.active,
		TotalClosed:    h.closed,
		TotalErrors:    h.errors,
		PeakConcurrent: h.peak,
		AvgDuration:    time.Duration(h.meanDuration * float64(time.Second)),
	}
}
