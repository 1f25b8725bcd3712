package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrGatewayOpen is returned by [Breaker.Execute] while the breaker is open
// and the cool-off has not yet elapsed. Probing the gateway once per sweep
// would otherwise burn radio and battery on a dead link.
var ErrGatewayOpen = errors.New("ledger: gateway circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrGatewayOpen] until the cool-off
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through to
	// decide whether the gateway has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-value fields get defaults.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 3.
	MaxFailures int

	// CoolOff is how long the breaker stays open before probing again.
	// Default: one offline sweep interval.
	CoolOff time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 2.
	HalfOpenMax int
}

// Breaker guards calls to the ledger gateway with a three-state circuit
// breaker (closed, open, half-open). Safe for concurrent use.
type Breaker struct {
	maxFailures int
	coolOff     time.Duration
	halfOpenMax int

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenFails int
}

// NewBreaker creates a Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultOfflineInterval
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &Breaker{
		maxFailures: cfg.MaxFailures,
		coolOff:     cfg.CoolOff,
		halfOpenMax: cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker is open. In the half-open state only
// the probe budget is let through.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.coolOff {
			b.mu.Unlock()
			return ErrGatewayOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		slog.Debug("ledger gateway breaker half-open")

	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrGatewayOpen
		}
	}

	inHalfOpen := b.state == BreakerHalfOpen
	if inHalfOpen {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(inHalfOpen)
	} else {
		b.onSuccess(inHalfOpen)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(inHalfOpen bool) {
	b.lastFailure = time.Now()

	if inHalfOpen {
		b.halfOpenFails++
		b.state = BreakerOpen
		b.failures = b.maxFailures
		slog.Warn("ledger gateway breaker re-opened")
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("ledger gateway breaker opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(inHalfOpen bool) {
	if inHalfOpen {
		if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenMax {
			b.state = BreakerClosed
			b.failures = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("ledger gateway breaker closed")
		}
		return
	}
	b.failures = 0
}

// State returns the current state. An elapsed cool-off reports half-open;
// the transition itself happens on the next Execute.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.coolOff {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
}

// GatewayProbe adapts a head query and a Breaker into the connectivity probe
// consumed by [SweeperConfig]. While the breaker is open the probe reports
// offline without touching the network.
func GatewayProbe(b *Breaker, head func(ctx context.Context) error) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return b.Execute(func() error { return head(ctx) }) == nil
	}
}
