package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// DefaultMaxRetry is the per-job retry budget. A job that has failed this
// many sweeps is dropped and reported, never retried indefinitely.
const DefaultMaxRetry = 5

// Sweep intervals. The sweeper polls faster while the gateway is
// reachable and backs off while offline.
const (
	DefaultOnlineInterval  = 30 * time.Second
	DefaultOfflineInterval = 5 * time.Minute
)

// SweeperConfig parameterises the retry sweeper.
type SweeperConfig struct {
	// MaxRetry is the per-job retry budget.
	MaxRetry int

	// OnlineInterval and OfflineInterval are the sweep periods with and
	// without connectivity.
	OnlineInterval  time.Duration
	OfflineInterval time.Duration

	// Probe reports whether the ledger gateway is currently reachable.
	// Defaults to assuming connectivity, in which case failed submissions
	// still back off through the retry budget.
	Probe func(ctx context.Context) bool

	// OnConfirmed is called when a queued job lands on the ledger. May be
	// nil.
	OnConfirmed func(evidenceID string, receipt types.LedgerReceipt)

	// OnAbandoned is called when a job exhausts its retry budget and is
	// dropped from the queue. May be nil.
	OnAbandoned func(job types.AnchorJob, lastErr error)
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.MaxRetry <= 0 {
		c.MaxRetry = DefaultMaxRetry
	}
	if c.OnlineInterval <= 0 {
		c.OnlineInterval = DefaultOnlineInterval
	}
	if c.OfflineInterval <= 0 {
		c.OfflineInterval = DefaultOfflineInterval
	}
	return c
}

// Sweeper periodically retries queued anchor jobs. It never blocks the
// emergency pipeline; all its work happens on its own loop.
type Sweeper struct {
	anchorer Anchorer
	queue    Queue
	cfg      SweeperConfig
}

// NewSweeper creates a Sweeper over the given anchorer and durable queue.
func NewSweeper(anchorer Anchorer, queue Queue, cfg SweeperConfig) *Sweeper {
	return &Sweeper{anchorer: anchorer, queue: queue, cfg: cfg.withDefaults()}
}

// Run sweeps the queue until ctx is cancelled, adapting the interval to
// connectivity.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Sweep(ctx)
			timer.Reset(s.interval(ctx))
		}
	}
}

// interval picks the next sweep delay from the connectivity probe.
func (s *Sweeper) interval(ctx context.Context) time.Duration {
	if s.online(ctx) {
		return s.cfg.OnlineInterval
	}
	return s.cfg.OfflineInterval
}

func (s *Sweeper) online(ctx context.Context) bool {
	if s.cfg.Probe == nil {
		return true
	}
	return s.cfg.Probe(ctx)
}

// Sweep retries every pending job once. Exported so the orchestrator can
// force an immediate pass when connectivity returns.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.online(ctx) {
		return
	}

	jobs, err := s.queue.Pending(ctx)
	if err != nil {
		slog.Warn("ledger: sweep: read queue", "err", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.retry(ctx, job)
	}
}

// retry drives one job through an idempotence check and, if needed, a
// fresh submission.
func (s *Sweeper) retry(ctx context.Context, job types.AnchorJob) {
	// An earlier attempt may have landed after we gave up waiting for
	// inclusion. Never submit a duplicate transaction for a confirmed
	// hash.
	receipt, err := s.anchorer.Verify(ctx, job.Hash)
	if err == nil {
		s.confirm(ctx, job, receipt)
		return
	}
	if !errors.Is(err, ErrNotAnchored) {
		slog.Debug("ledger: sweep: verify failed, submitting anyway", "evidence_id", job.EvidenceID, "err", err)
	}

	receipt, err = s.anchorer.Anchor(ctx, job)
	if err == nil {
		s.confirm(ctx, job, receipt)
		return
	}

	job.RetryCount++
	job.LastError = err.Error()
	slog.Warn("ledger: anchor retry failed",
		"evidence_id", job.EvidenceID, "retry", job.RetryCount, "max_retry", s.cfg.MaxRetry, "err", err)

	if job.RetryCount >= s.cfg.MaxRetry {
		if rmErr := s.queue.Remove(ctx, job.EvidenceID); rmErr != nil {
			slog.Warn("ledger: drop exhausted job", "evidence_id", job.EvidenceID, "err", rmErr)
		}
		slog.Error("ledger: anchor retry budget exhausted", "evidence_id", job.EvidenceID, "hash", job.Hash)
		if s.cfg.OnAbandoned != nil {
			s.cfg.OnAbandoned(job, err)
		}
		return
	}
	if err := s.queue.Update(ctx, job); err != nil {
		slog.Warn("ledger: persist retry count", "evidence_id", job.EvidenceID, "err", err)
	}
}

// confirm removes a landed job and notifies the owner.
func (s *Sweeper) confirm(ctx context.Context, job types.AnchorJob, receipt types.LedgerReceipt) {
	if err := s.queue.Remove(ctx, job.EvidenceID); err != nil {
		slog.Warn("ledger: remove confirmed job", "evidence_id", job.EvidenceID, "err", err)
	}
	slog.Info("ledger: queued anchor confirmed",
		"evidence_id", job.EvidenceID, "tx_ref", receipt.TxRef, "block_height", receipt.BlockHeight)
	if s.cfg.OnConfirmed != nil {
		s.cfg.OnConfirmed(job.EvidenceID, receipt)
	}
}
