// Package emergency wires the detection pipeline together: the audio
// cycle, the voice-trigger debouncer, risk fusion, evidence assembly,
// mesh broadcast, and ledger anchoring, supervised as independent
// long-lived tasks with a deterministic start/stop lifecycle.
//
// Ordering within one escalation is causal: detect, then assemble, then
// broadcast and anchor in parallel. Broadcast and anchoring are mutually
// independent; one leg's failure never cancels the other.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quietharbor/aegis/internal/evidence"
	"github.com/quietharbor/aegis/internal/fusion"
	"github.com/quietharbor/aegis/internal/ledger"
	"github.com/quietharbor/aegis/internal/mesh"
	"github.com/quietharbor/aegis/internal/observe"
	"github.com/quietharbor/aegis/internal/trigger"
	"github.com/quietharbor/aegis/pkg/capture"
	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/types"
)

// DefaultScreamThreshold is the scream confidence at which an escalation
// fires directly, bypassing the debouncer.
const DefaultScreamThreshold = 0.8

// DefaultRecentFrames bounds the pre-trigger audio ring (~0.5s of 20ms
// frames).
const DefaultRecentFrames = 25

// Broadcaster is the mesh surface the orchestrator drives. mesh.Service
// is the production implementation.
type Broadcaster interface {
	Start(ctx context.Context) error
	Stop()
	Broadcast(ctx context.Context, msg types.SOSMessage) error
	StopBroadcast(ctx context.Context) error
}

// Compile-time interface check.
var _ Broadcaster = (*mesh.Service)(nil)

// Config tunes the orchestrator's escalation policy.
type Config struct {
	// ScreamThreshold fires an immediate escalation when exceeded.
	ScreamThreshold float64

	// DebounceThreshold and DebounceTimeout parameterise the voice-trigger
	// debouncer (K detections within gaps of at most T).
	DebounceThreshold int
	DebounceTimeout   time.Duration

	// FusionWeights and FusionThreshold parameterise risk fusion.
	FusionWeights   fusion.Weights
	FusionThreshold float64

	// SenderPseudoID is this device's rotating mesh identifier.
	SenderPseudoID string

	// ShareLocation controls whether the coarse fix rides in SOS
	// broadcasts.
	ShareLocation bool

	// RecentFrames bounds the pre-trigger audio ring.
	RecentFrames int

	// Assembly bounds the evidence capture tasks.
	Assembly evidence.Config

	// Sweep parameterises the anchor retry sweeper. Its callbacks are
	// owned by the orchestrator and must be left nil.
	Sweep ledger.SweeperConfig
}

func (c Config) withDefaults() Config {
	if c.ScreamThreshold <= 0 {
		c.ScreamThreshold = DefaultScreamThreshold
	}
	if c.RecentFrames <= 0 {
		c.RecentFrames = DefaultRecentFrames
	}
	return c
}

// Deps are the orchestrator's collaborators. Audio, Detector, Store,
// AudioRecorder, Anchorer, and Queue are required; the rest degrade to
// nil-safe fallbacks.
type Deps struct {
	Audio    capture.AudioSource
	Detector classifier.Detector

	Store         *evidence.Store
	AudioRecorder capture.Recorder
	VideoRecorder capture.Recorder
	Location      capture.LocationProvider
	Sensors       capture.SensorFeed

	Mesh     Broadcaster
	Anchorer ledger.Anchorer
	Queue    ledger.Queue

	// Sink receives observable state changes; may be nil.
	Sink StateSink

	// Metrics receives pipeline telemetry. Nil selects the process-wide
	// default instruments.
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Audio == nil:
		return errors.New("emergency: audio source is required")
	case d.Detector == nil:
		return errors.New("emergency: detector is required")
	case d.Store == nil:
		return errors.New("emergency: evidence store is required")
	case d.AudioRecorder == nil:
		return errors.New("emergency: audio recorder is required")
	case d.Anchorer == nil:
		return errors.New("emergency: ledger anchorer is required")
	case d.Queue == nil:
		return errors.New("emergency: anchor queue is required")
	}
	return nil
}

// Orchestrator is the top-level coordinator of the emergency pipeline.
type Orchestrator struct {
	cfg  Config
	deps Deps

	assembler *evidence.Assembler
	scorer    *fusion.Scorer
	debouncer *trigger.Debouncer
	sweeper   *ledger.Sweeper
	state     *stateStore
	stats     *PipelineStats
	metrics   *observe.Metrics

	mu            sync.Mutex
	running       bool
	runCtx        context.Context
	cancel        context.CancelFunc
	group         *errgroup.Group
	recent        []types.AudioFrame
	lastAudioConf float64
	assemblyStart time.Time
	incident      *incident
}

// incident tracks what must be torn down when an emergency is resolved.
type incident struct {
	evidenceID   string
	threat       types.ThreatType
	broadcasting bool
}

// New wires an Orchestrator. It constructs the assembler, debouncer,
// fusion scorer, and retry sweeper around the injected collaborators.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		state:   newStateStore(deps.Sink),
		stats:   NewPipelineStats(0),
		metrics: deps.Metrics,
	}
	o.scorer = fusion.New(cfg.FusionWeights, cfg.FusionThreshold)
	o.debouncer = trigger.New(cfg.DebounceThreshold, cfg.DebounceTimeout, o.onDebounceFire)
	o.assembler = evidence.New(
		deps.Store, deps.AudioRecorder, deps.VideoRecorder, deps.Location,
		cfg.Assembly, o.onAssembled,
	)

	sweepCfg := cfg.Sweep
	sweepCfg.OnConfirmed = o.onAnchorConfirmed
	sweepCfg.OnAbandoned = o.onAnchorAbandoned
	o.sweeper = ledger.NewSweeper(deps.Anchorer, deps.Queue, sweepCfg)

	return o, nil
}

// State returns the current observable snapshot.
func (o *Orchestrator) State() State { return o.state.snapshot() }

// Stats returns the pipeline statistics snapshot.
func (o *Orchestrator) Stats() StatsSnapshot { return o.stats.Snapshot() }

// Start acquires the microphone and launches the supervised loops: the
// audio cycle, the debouncer sweep, the fusion consumer, the mesh
// scanner, and the anchor retry sweep. Failing collaborators degrade the
// sensor set; only a failing audio source aborts Start.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyMonitoring
	}

	if err := o.deps.Audio.Start(ctx); err != nil {
		return fmt.Errorf("%w: audio: %v", ErrHardwareUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.runCtx = runCtx
	o.cancel = cancel
	o.group = &errgroup.Group{}

	o.group.Go(func() error {
		o.audioLoop(runCtx)
		return nil
	})
	o.group.Go(func() error {
		o.debouncer.Run(runCtx)
		return nil
	})
	o.group.Go(func() error {
		o.sweeper.Run(runCtx)
		return nil
	})

	if o.deps.Sensors != nil {
		events, err := o.deps.Sensors.Events(runCtx)
		if err != nil {
			slog.Warn("emergency: sensor feed unavailable, fusing audio only", "err", err)
			o.recordFailure("sensors", fmt.Errorf("%w: sensors: %v", ErrHardwareUnavailable, err))
		} else {
			o.group.Go(func() error {
				o.scorer.Consume(runCtx, events, o.onFusionThreat)
				return nil
			})
		}
	}

	if o.deps.Mesh != nil {
		if err := o.deps.Mesh.Start(runCtx); err != nil {
			slog.Warn("emergency: mesh unavailable, broadcast leg disabled", "err", err)
			o.recordFailure("mesh", fmt.Errorf("%w: mesh: %v", ErrHardwareUnavailable, err))
		}
	}

	o.running = true
	o.state.update(func(s *State) {
		s.IsMonitoring = true
		s.LastError = ""
	})
	slog.Info("emergency: monitoring started")
	return nil
}

// Stop cancels every loop and releases the hardware deterministically.
// Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	group := o.group
	o.mu.Unlock()

	cancel()
	if err := o.deps.Audio.Stop(); err != nil {
		slog.Warn("emergency: release audio", "err", err)
	}
	if o.deps.Mesh != nil {
		o.deps.Mesh.Stop()
	}
	_ = group.Wait()

	o.state.update(func(s *State) {
		s.IsMonitoring = false
		s.TriggerCount = 0
	})
	slog.Info("emergency: monitoring stopped")
}

// TriggerManual escalates immediately on the user's explicit action.
// Returns ErrEscalationInFlight while an incident is already active and
// ErrNotMonitoring when the pipeline is stopped.
func (o *Orchestrator) TriggerManual() error {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return ErrNotMonitoring
	}
	return o.escalate(types.ThreatManual, 1.0)
}

// Resolve closes the incident window: stops the recorders, takes the SOS
// off the air, and re-arms the assembler for the next escalation.
func (o *Orchestrator) Resolve(ctx context.Context) {
	o.mu.Lock()
	inc := o.incident
	o.incident = nil
	o.mu.Unlock()
	if inc == nil {
		return
	}

	if err := o.deps.AudioRecorder.Stop(); err != nil {
		slog.Warn("emergency: stop audio recording", "err", err)
	}
	if o.deps.VideoRecorder != nil {
		if err := o.deps.VideoRecorder.Stop(); err != nil {
			slog.Warn("emergency: stop video recording", "err", err)
		}
	}
	if o.deps.Mesh != nil && inc.broadcasting {
		if err := o.deps.Mesh.StopBroadcast(ctx); err != nil {
			slog.Warn("emergency: stop broadcast", "err", err)
		}
	}

	o.assembler.Release()
	o.state.update(func(s *State) {
		s.IsEmergency = false
	})
	slog.Info("emergency: incident resolved", "evidence_id", inc.evidenceID)
}

// audioLoop is the dedicated worker for blocking frame reads.
func (o *Orchestrator) audioLoop(ctx context.Context) {
	for {
		frame, err := o.deps.Audio.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.stats.IncrErrors()
			o.metrics.RecordPipelineError(ctx, "audio")
			slog.Warn("emergency: audio read failed", "err", err)
			continue
		}

		result, err := o.deps.Detector.Detect(frame)
		if err != nil {
			o.stats.IncrErrors()
			o.metrics.RecordPipelineError(ctx, "detect")
			continue
		}
		o.stats.RecordDetect(result.Latency)
		o.metrics.AudioFrames.Add(ctx, 1)
		o.metrics.DetectDuration.Record(ctx, result.Latency.Seconds())
		o.pushRecent(frame)

		audioConf := result.ScreamConfidence
		if result.TriggerConfidence > audioConf {
			audioConf = result.TriggerConfidence
		}
		o.scorer.Update(types.SensorAudio, audioConf)

		if result.TriggeredKeyword != "" {
			o.mu.Lock()
			o.lastAudioConf = result.TriggerConfidence
			o.mu.Unlock()
			o.debouncer.Observe(time.Now())
			o.state.update(func(s *State) {
				s.TriggerCount = o.debouncer.Count()
			})
		}

		if result.ScreamConfidence >= o.cfg.ScreamThreshold {
			if err := o.escalate(types.ThreatScream, result.ScreamConfidence); err != nil && !errors.Is(err, ErrEscalationInFlight) {
				o.recordFailure("escalate", err)
			}
		}
	}
}

// onDebounceFire is called by the debouncer when K qualifying detections
// land within the timeout window.
func (o *Orchestrator) onDebounceFire() {
	o.mu.Lock()
	conf := o.lastAudioConf
	o.mu.Unlock()
	if err := o.escalate(types.ThreatVoiceTrigger, conf); err != nil && !errors.Is(err, ErrEscalationInFlight) {
		o.recordFailure("escalate", err)
	}
}

// onFusionThreat is called by the fusion consumer when the fused score
// crosses its threshold from below.
func (o *Orchestrator) onFusionThreat(assessment types.RiskAssessment) {
	if err := o.escalate(types.ThreatRiskFusion, assessment.Contributing[types.SensorAudio]); err != nil && !errors.Is(err, ErrEscalationInFlight) {
		o.recordFailure("fusion", err)
	}
}

// escalate starts evidence assembly for one trigger. A trigger arriving
// while an incident is in flight is coalesced, never a second package.
func (o *Orchestrator) escalate(threat types.ThreatType, audioConf float64) error {
	trig := evidence.Trigger{
		Threat:          threat,
		RiskScore:       o.scorer.Score().Score,
		AudioConfidence: audioConf,
		Sensors:         o.scorer.Snapshot(),
		RecentAudio:     o.snapshotRecent(),
	}

	// The incident and start time are installed under the same lock that
	// admits the trigger: onAssembled synchronises on it, so even an
	// instantly-completing assembly observes them.
	o.mu.Lock()
	runCtx := o.runCtx
	if runCtx == nil {
		o.mu.Unlock()
		return ErrNotMonitoring
	}
	id, err := o.assembler.Assemble(runCtx, trig)
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, evidence.ErrAssemblyInFlight) {
			slog.Debug("emergency: trigger coalesced into in-flight incident", "threat", threat)
			return ErrEscalationInFlight
		}
		return err
	}
	o.assemblyStart = time.Now()
	o.incident = &incident{evidenceID: id, threat: threat}
	o.mu.Unlock()

	o.stats.IncrEscalations()
	o.metrics.RecordEscalation(runCtx, string(threat))
	o.debouncer.Reset()
	o.state.update(func(s *State) {
		s.IsEmergency = true
		s.EvidenceID = id
		s.TriggerCount = 0
	})
	slog.Info("emergency: escalation", "threat", threat, "evidence_id", id, "audio_confidence", audioConf)
	return nil
}

// onAssembled receives the sealed package. Broadcast and anchoring run in
// parallel from here; neither waits for the other.
func (o *Orchestrator) onAssembled(pkg *types.EvidencePackage, err error) {
	o.mu.Lock()
	started := o.assemblyStart
	runCtx := o.runCtx
	o.mu.Unlock()

	if err != nil {
		// No writable evidence storage is the one unrecoverable
		// configuration error: the pipeline cannot fulfil its contract.
		o.recordFailure("assembly", err)
		o.mu.Lock()
		o.incident = nil
		o.mu.Unlock()
		o.state.update(func(s *State) {
			s.IsEmergency = false
		})
		return
	}
	o.stats.RecordAssembly(time.Since(started))
	o.metrics.AssemblyDuration.Record(runCtx, time.Since(started).Seconds())

	go o.broadcast(runCtx, pkg)
	go o.anchor(runCtx, pkg)
}

// broadcast puts the SOS on the air. Best-effort: failure is logged and
// counted, never propagated to the other legs.
func (o *Orchestrator) broadcast(ctx context.Context, pkg *types.EvidencePackage) {
	if o.deps.Mesh == nil {
		return
	}
	ctx, span := observe.StartStageSpan(ctx, "broadcast")
	defer span.End()

	msg := types.SOSMessage{
		ID:             mesh.NewMessageID(),
		SenderPseudoID: o.cfg.SenderPseudoID,
		Urgency:        urgencyFor(pkg.Threat),
		Threat:         pkg.Threat,
		Timestamp:      time.Now().UTC(),
	}
	if o.cfg.ShareLocation && pkg.Location != nil {
		msg.Location = pkg.Location
	}

	if err := o.deps.Mesh.Broadcast(ctx, msg); err != nil {
		o.stats.IncrErrors()
		o.metrics.RecordPipelineError(ctx, "broadcast")
		slog.Warn("emergency: sos broadcast failed", "evidence_id", pkg.ID, "err", err)
		return
	}
	o.metrics.RecordBroadcast(ctx, msg.Urgency.String())
	o.mu.Lock()
	if o.incident != nil && o.incident.evidenceID == pkg.ID {
		o.incident.broadcasting = true
	}
	o.mu.Unlock()
}

// anchor submits the evidence hash to the ledger. On failure the job is
// parked in the durable queue; a transient network failure is never
// surfaced as an emergency error.
func (o *Orchestrator) anchor(ctx context.Context, pkg *types.EvidencePackage) {
	ctx, span := observe.StartStageSpan(ctx, "anchor")
	defer span.End()

	job := types.AnchorJob{
		EvidenceID: pkg.ID,
		Hash:       pkg.Hash,
		Timestamp:  pkg.Timestamp,
		Location:   pkg.Location,
		Threat:     pkg.Threat,
		QueuedAt:   time.Now().UTC(),
	}

	started := time.Now()
	receipt, err := o.deps.Anchorer.Anchor(ctx, job)
	if err == nil {
		o.stats.RecordAnchor(time.Since(started))
		o.metrics.AnchorDuration.Record(ctx, time.Since(started).Seconds())
		o.metrics.RecordAnchorOutcome(ctx, "confirmed")
		o.setAnchorStatus(pkg.ID, types.AnchorConfirmed, receipt.TxRef)
		slog.Info("emergency: evidence anchored", "evidence_id", pkg.ID, "tx_ref", receipt.TxRef)
		return
	}

	slog.Warn("emergency: anchor deferred to retry queue", "evidence_id", pkg.ID, "err", err)
	job.LastError = err.Error()
	if qErr := o.deps.Queue.Enqueue(ctx, job); qErr != nil {
		o.recordFailure("anchor_queue", qErr)
		return
	}
	o.metrics.RecordAnchorOutcome(ctx, "queued")
	o.metrics.AnchorQueueDepth.Add(ctx, 1)
	o.setAnchorStatus(pkg.ID, types.AnchorQueued, "")
}

// onAnchorConfirmed is the sweeper callback for a queued job that landed.
func (o *Orchestrator) onAnchorConfirmed(evidenceID string, receipt types.LedgerReceipt) {
	o.metrics.RecordAnchorOutcome(context.Background(), "confirmed")
	o.metrics.AnchorQueueDepth.Add(context.Background(), -1)
	o.setAnchorStatus(evidenceID, types.AnchorConfirmed, receipt.TxRef)
}

// onAnchorAbandoned is the sweeper callback for an exhausted retry
// budget. The evidence stays valid locally.
func (o *Orchestrator) onAnchorAbandoned(job types.AnchorJob, lastErr error) {
	o.metrics.RecordAnchorOutcome(context.Background(), "abandoned")
	o.metrics.AnchorQueueDepth.Add(context.Background(), -1)
	o.setAnchorStatus(job.EvidenceID, types.AnchorAbandoned, "")
	o.recordFailure("anchor", fmt.Errorf("%w: %s: %v", ErrAnchorExhausted, job.EvidenceID, lastErr))
}

// setAnchorStatus persists the lifecycle change on the stored descriptor.
func (o *Orchestrator) setAnchorStatus(evidenceID string, state types.AnchorState, txRef string) {
	if err := o.deps.Store.SetAnchorStatus(evidenceID, state, txRef); err != nil {
		slog.Warn("emergency: persist anchor status", "evidence_id", evidenceID, "err", err)
	}
}

// recordFailure counts a recoverable failure against its pipeline stage and
// surfaces it on the observable state.
func (o *Orchestrator) recordFailure(stage string, err error) {
	o.stats.IncrErrors()
	o.metrics.RecordPipelineError(context.Background(), stage)
	o.state.update(func(s *State) {
		s.LastError = err.Error()
	})
}

// pushRecent appends a frame to the bounded pre-trigger ring.
func (o *Orchestrator) pushRecent(frame types.AudioFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recent = append(o.recent, frame)
	if overflow := len(o.recent) - o.cfg.RecentFrames; overflow > 0 {
		o.recent = append(o.recent[:0], o.recent[overflow:]...)
	}
}

// snapshotRecent copies the ring for the assembler.
func (o *Orchestrator) snapshotRecent() []types.AudioFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.AudioFrame, len(o.recent))
	copy(out, o.recent)
	return out
}

// urgencyFor maps the trigger source to a broadcast urgency.
func urgencyFor(threat types.ThreatType) types.Urgency {
	switch threat {
	case types.ThreatVoiceTrigger:
		return types.UrgencyHigh
	default:
		return types.UrgencyCritical
	}
}
