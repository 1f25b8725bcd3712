package emergency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// PipelineStats collects per-stage latency samples and counter values for
// the status surface. It maintains a bounded ring buffer of recent latency
// observations from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type PipelineStats struct {
	mu sync.Mutex

	detect   latencyBuffer
	assembly latencyBuffer
	anchor   latencyBuffer

	frames      int64
	escalations int64
	errors      int64
}

// NewPipelineStats creates a PipelineStats with the given window size
// (maximum number of latency samples retained per stage).
func NewPipelineStats(windowSize int) *PipelineStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PipelineStats{
		detect:   newLatencyBuffer(windowSize),
		assembly: newLatencyBuffer(windowSize),
		anchor:   newLatencyBuffer(windowSize),
	}
}

// RecordDetect records one frame-classification latency sample and counts
// the frame.
func (ps *PipelineStats) RecordDetect(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.detect.add(d)
	ps.frames++
}

// RecordAssembly records an evidence-assembly duration sample.
func (ps *PipelineStats) RecordAssembly(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.assembly.add(d)
}

// RecordAnchor records a ledger-anchor round-trip sample.
func (ps *PipelineStats) RecordAnchor(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.anchor.add(d)
}

// IncrEscalations increments the escalation counter.
func (ps *PipelineStats) IncrEscalations() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.escalations++
}

// IncrErrors increments the recoverable-error counter.
func (ps *PipelineStats) IncrErrors() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.errors++
}

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot captures a point-in-time view of all pipeline statistics.
type StatsSnapshot struct {
	Detect      LatencyPercentiles
	Assembly    LatencyPercentiles
	Anchor      LatencyPercentiles
	Frames      int64
	Escalations int64
	Errors      int64
}

// Snapshot returns a point-in-time view of all pipeline statistics.
func (ps *PipelineStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return StatsSnapshot{
		Detect:      ps.detect.percentiles(),
		Assembly:    ps.assembly.percentiles(),
		Anchor:      ps.anchor.percentiles(),
		Frames:      ps.frames,
		Escalations: ps.escalations,
		Errors:      ps.errors,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
