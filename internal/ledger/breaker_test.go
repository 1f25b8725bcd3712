package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failingCalls(b *Breaker, n int) {
	for range n {
		_ = b.Execute(func() error { return errors.New("gateway timeout") })
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 3, CoolOff: time.Minute})
	failingCalls(b, 3)

	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrGatewayOpen) {
		t.Errorf("err = %v, want ErrGatewayOpen", err)
	}
	if called {
		t.Error("open breaker forwarded the call")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 3, CoolOff: time.Minute})
	failingCalls(b, 2)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	failingCalls(b, 2)

	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerHalfOpenClosesOnProbeSuccesses(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: 20 * time.Millisecond, HalfOpenMax: 2})
	failingCalls(b, 1)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after cool-off", got)
	}

	for range 2 {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe call: %v", err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after probes", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: 20 * time.Millisecond})
	failingCalls(b, 1)
	time.Sleep(30 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("still down") })
	if got := b.State(); got != BreakerOpen {
		t.Errorf("state = %v, want open after failed probe", got)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: time.Minute})
	failingCalls(b, 1)
	b.Reset()

	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after reset", got)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after reset: %v", err)
	}
}

func TestGatewayProbe(t *testing.T) {
	t.Parallel()

	headErr := error(nil)
	calls := 0
	b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: time.Minute})
	probe := GatewayProbe(b, func(_ context.Context) error {
		calls++
		return headErr
	})

	if !probe(context.Background()) {
		t.Error("probe = false with healthy gateway")
	}

	headErr = errors.New("unreachable")
	if probe(context.Background()) {
		t.Error("probe = true with dead gateway")
	}

	// Breaker is open now; further probes must not hit the network.
	before := calls
	if probe(context.Background()) {
		t.Error("probe = true while breaker open")
	}
	if calls != before {
		t.Errorf("open breaker still called head (%d -> %d)", before, calls)
	}
}
