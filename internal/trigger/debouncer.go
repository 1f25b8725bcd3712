// Package trigger turns repeated keyword detections into a single
// escalation event.
//
// The debouncer is a small counter state machine: Idle(0) → Counting(1..K-1)
// → Fired(K, transient) → Idle(0). K qualifying detections, each within the
// timeout of the previous one, produce exactly one escalation. A partial
// count left behind by an interrupted sequence is cleared both lazily (on
// the next detection) and by an independent periodic sweep, so stale state
// cannot linger between bursts.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of qualifying detections required to
	// escalate.
	DefaultThreshold = 3

	// DefaultTimeout is the maximum gap between consecutive detections for
	// them to count as one sequence.
	DefaultTimeout = 10 * time.Second
)

// Debouncer accumulates qualifying keyword detections and fires a callback
// on the Kth detection of an unbroken sequence.
//
// All methods are safe for concurrent use; detections arriving from
// concurrent callbacks are serialised through a single mutex so the
// fire-then-reset transition is atomic and can never double-fire.
type Debouncer struct {
	threshold int
	timeout   time.Duration
	onFire    func()

	mu        sync.Mutex
	count     int
	lastEvent time.Time
}

// New creates a Debouncer that calls onFire each time a full sequence
// completes. Non-positive threshold or timeout fall back to the defaults.
// onFire is invoked synchronously from Observe, outside the internal lock.
func New(threshold int, timeout time.Duration, onFire func()) *Debouncer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Debouncer{threshold: threshold, timeout: timeout, onFire: onFire}
}

// Observe records a qualifying detection stamped at the given time and
// reports whether it completed a sequence.
//
// The staleness comparison is strictly greater-than: a detection landing
// exactly at the timeout boundary still counts toward the running sequence.
func (d *Debouncer) Observe(at time.Time) bool {
	d.mu.Lock()

	if d.count > 0 && at.Sub(d.lastEvent) > d.timeout {
		d.count = 0
	}
	d.count++
	d.lastEvent = at

	fired := d.count >= d.threshold
	if fired {
		d.count = 0
	}
	d.mu.Unlock()

	if fired && d.onFire != nil {
		d.onFire()
	}
	return fired
}

// Count returns the current sequence progress.
func (d *Debouncer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Reset clears any partial sequence.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count = 0
}

// Run executes the periodic staleness sweep until ctx is done. The sweep
// clears a partial count once it has been idle strictly longer than the
// timeout, independent of any new detections arriving.
//
// Run blocks; call it in its own goroutine. The sweep interval is half the
// timeout so a stale count survives at most 1.5× the timeout.
func (d *Debouncer) Run(ctx context.Context) {
	interval := d.timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.sweep(now)
		}
	}
}

// sweep clears the count if the last event is older than the timeout.
func (d *Debouncer) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count > 0 && now.Sub(d.lastEvent) > d.timeout {
		slog.Debug("trigger: stale sequence swept", "count", d.count)
		d.count = 0
	}
}
