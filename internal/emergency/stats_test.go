package emergency

import (
	"testing"
	"time"
)

func TestNewPipelineStats_DefaultWindowSize(t *testing.T) {
	t.Parallel()

	ps := NewPipelineStats(0)
	// Should use default window size (100), not panic.
	ps.RecordDetect(10 * time.Millisecond)

	snap := ps.Snapshot()
	if snap.Detect.P50 != 10*time.Millisecond {
		t.Errorf("Detect P50 = %v, want 10ms", snap.Detect.P50)
	}
	if snap.Frames != 1 {
		t.Errorf("Frames = %d, want 1", snap.Frames)
	}
}

func TestPipelineStats_RecordAndSnapshot(t *testing.T) {
	t.Parallel()

	ps := NewPipelineStats(100)

	for i := 1; i <= 100; i++ {
		ps.RecordDetect(time.Duration(i) * time.Millisecond)
	}
	ps.RecordAssembly(500 * time.Millisecond)
	ps.RecordAnchor(1200 * time.Millisecond)

	ps.IncrEscalations()
	ps.IncrErrors()

	snap := ps.Snapshot()

	if snap.Frames != 100 {
		t.Errorf("Frames = %d, want 100", snap.Frames)
	}
	if snap.Escalations != 1 {
		t.Errorf("Escalations = %d, want 1", snap.Escalations)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}

	// Detect: 100 samples from 1ms to 100ms.
	if snap.Detect.P50 != 50*time.Millisecond {
		t.Errorf("Detect P50 = %v, want 50ms", snap.Detect.P50)
	}
	if snap.Detect.P95 != 95*time.Millisecond {
		t.Errorf("Detect P95 = %v, want 95ms", snap.Detect.P95)
	}

	if snap.Assembly.P50 != 500*time.Millisecond {
		t.Errorf("Assembly P50 = %v, want 500ms", snap.Assembly.P50)
	}
	if snap.Anchor.P50 != 1200*time.Millisecond {
		t.Errorf("Anchor P50 = %v, want 1200ms", snap.Anchor.P50)
	}
}

func TestPipelineStats_EmptySnapshot(t *testing.T) {
	t.Parallel()

	ps := NewPipelineStats(10)
	snap := ps.Snapshot()

	if snap.Detect.P50 != 0 || snap.Detect.P95 != 0 {
		t.Errorf("empty Detect = %+v, want zero", snap.Detect)
	}
	if snap.Frames != 0 || snap.Escalations != 0 || snap.Errors != 0 {
		t.Errorf("empty counters = %+v, want zero", snap)
	}
}

func TestPipelineStats_RingBufferWrap(t *testing.T) {
	t.Parallel()

	// Small buffer to force wrap-around.
	ps := NewPipelineStats(3)

	ps.RecordDetect(10 * time.Millisecond)
	ps.RecordDetect(20 * time.Millisecond)
	ps.RecordDetect(30 * time.Millisecond)
	// Wrap around: overwrites first entry.
	ps.RecordDetect(40 * time.Millisecond)

	snap := ps.Snapshot()
	// Buffer now contains [40, 20, 30]; sorted [20, 30, 40].
	// P50 of 3 elements: ceil(0.5 * 3) - 1 = 1 => index 1 => 30ms.
	if snap.Detect.P50 != 30*time.Millisecond {
		t.Errorf("Detect P50 after wrap = %v, want 30ms", snap.Detect.P50)
	}
	if snap.Frames != 4 {
		t.Errorf("Frames = %d, want 4 (counter survives wrap)", snap.Frames)
	}
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sorted []time.Duration
		p      float64
		want   time.Duration
	}{
		{"empty", nil, 0.5, 0},
		{"single element p50", []time.Duration{100 * time.Millisecond}, 0.5, 100 * time.Millisecond},
		{"single element p95", []time.Duration{100 * time.Millisecond}, 0.95, 100 * time.Millisecond},
		{"two elements p50", []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 0.5, 10 * time.Millisecond},
		{"two elements p95", []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 0.95, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := percentile(tt.sorted, tt.p)
			if got != tt.want {
				t.Errorf("percentile(%v, %.2f) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}
