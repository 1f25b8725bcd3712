package evidence

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quietharbor/aegis/pkg/capture"
	"github.com/quietharbor/aegis/pkg/types"
)

// ErrAssemblyInFlight is returned when an escalation arrives while a
// package is already being assembled. The new trigger is coalesced into the
// in-flight incident, never a second package.
var ErrAssemblyInFlight = errors.New("evidence: assembly already in flight")

// Default per-task capture timeouts. Every external capture operation is
// bounded; an expired task contributes a nil field instead of blocking the
// package.
const (
	DefaultAudioTimeout    = 5 * time.Second
	DefaultVideoTimeout    = 5 * time.Second
	DefaultLocationTimeout = 3 * time.Second
)

// Config bounds the assembler's capture tasks.
type Config struct {
	AudioTimeout    time.Duration
	VideoTimeout    time.Duration
	LocationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = DefaultAudioTimeout
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = DefaultVideoTimeout
	}
	if c.LocationTimeout <= 0 {
		c.LocationTimeout = DefaultLocationTimeout
	}
	return c
}

// Trigger carries everything the assembler needs from the escalation
// moment: what fired, the confidences at that instant, and the buffered
// pre-trigger audio.
type Trigger struct {
	Threat          types.ThreatType
	RiskScore       float64
	AudioConfidence float64

	// Sensors is the snapshot of the latest per-sensor confidences.
	Sensors map[types.SensorKind]float64

	// RecentAudio holds the frames leading up to the escalation; they are
	// opus-encoded into the trigger-audio artifact.
	RecentAudio []types.AudioFrame
}

// Assembler builds one evidence package per escalation.
//
// Assemble is non-blocking: capture and packaging run on a background
// goroutine and the outcome is delivered to the completion callback. While
// an assembly is in flight all further triggers are rejected with
// ErrAssemblyInFlight.
type Assembler struct {
	store    *Store
	audio    capture.Recorder
	video    capture.Recorder // nil when the device has no camera
	location capture.LocationProvider
	cfg      Config

	// onComplete receives the sealed package (or the storage error that
	// prevented sealing). Called exactly once per accepted trigger.
	onComplete func(*types.EvidencePackage, error)

	busy atomic.Bool
}

// New creates an Assembler. audio and store must be non-nil; video and
// location may be nil, in which case the corresponding fields stay empty.
func New(store *Store, audio, video capture.Recorder, location capture.LocationProvider, cfg Config, onComplete func(*types.EvidencePackage, error)) *Assembler {
	return &Assembler{
		store:      store,
		audio:      audio,
		video:      video,
		location:   location,
		cfg:        cfg.withDefaults(),
		onComplete: onComplete,
	}
}

// InFlight reports whether a package is currently being assembled.
func (a *Assembler) InFlight() bool { return a.busy.Load() }

// Release re-arms the assembler after the orchestrator closes the incident
// window. Until then every new escalation is coalesced.
func (a *Assembler) Release() { a.busy.Store(false) }

// Assemble starts assembly for one escalation and returns the new evidence
// id immediately. It never blocks on capture I/O.
//
// Returns ErrAssemblyInFlight when a package is already being assembled;
// the caller must not retry — the in-flight incident covers the trigger.
func (a *Assembler) Assemble(ctx context.Context, trig Trigger) (string, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return "", ErrAssemblyInFlight
	}

	id := uuid.NewString()
	go a.assemble(ctx, id, trig)
	return id, nil
}

// startRecorder launches a recording with a bounded startup but an unbounded
// session: the timeout covers only the Start call. The session context is
// detached from assembly on purpose — the recording keeps running after the
// package is sealed and ends when the recorder's Stop closes the incident.
func startRecorder(ctx context.Context, rec capture.Recorder, path string, startTimeout time.Duration) error {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	timer := time.AfterFunc(startTimeout, cancel)
	err := rec.Start(sctx, path)
	if !timer.Stop() || err != nil {
		cancel()
	}
	return err
}

// assemble runs the parallel capture tasks, seals the package, and persists
// the descriptor. Task failures degrade the package (nil fields) — only a
// descriptor write failure is reported as an assembly error.
func (a *Assembler) assemble(ctx context.Context, id string, trig Trigger) {
	started := time.Now()
	pkg := &types.EvidencePackage{
		ID:           id,
		Timestamp:    started.UTC(),
		Sensors:      trig.Sensors,
		Threat:       trig.Threat,
		RiskScore:    trig.RiskScore,
		AudioScore:   trig.AudioConfidence,
		AnchorStatus: types.AnchorPending,
	}

	var audioRef, videoRef, triggerRef string
	var loc *types.Location

	g, gctx := errgroup.WithContext(ctx)

	// Durable audio capture. Failure is logged and degrades to a package
	// without a live recording — the trigger snippet may still exist.
	g.Go(func() error {
		path := a.store.AudioPath(id)
		if err := startRecorder(gctx, a.audio, path, a.cfg.AudioTimeout); err != nil {
			slog.Warn("evidence: audio capture unavailable", "evidence_id", id, "err", err)
			return nil
		}
		audioRef = path
		return nil
	})

	// Best-effort video capture; its failure must not abort the pipeline.
	if a.video != nil {
		g.Go(func() error {
			path := a.store.VideoPath(id)
			if err := startRecorder(gctx, a.video, path, a.cfg.VideoTimeout); err != nil {
				slog.Info("evidence: video capture skipped", "evidence_id", id, "err", err)
				return nil
			}
			videoRef = path
			return nil
		})
	}

	// Last-known location.
	if a.location != nil {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, a.cfg.LocationTimeout)
			defer cancel()
			fix, err := a.location.LastKnown(tctx)
			if err != nil {
				slog.Info("evidence: location unavailable", "evidence_id", id, "err", err)
				return nil
			}
			loc = &fix
			return nil
		})
	}

	// Pre-trigger audio snippet.
	if len(trig.RecentAudio) > 0 {
		g.Go(func() error {
			path := a.store.TriggerAudioPath(id)
			if err := writeTriggerAudio(trig.RecentAudio, path); err != nil {
				slog.Warn("evidence: trigger snippet not written", "evidence_id", id, "err", err)
				return nil
			}
			triggerRef = path
			return nil
		})
	}

	// Tasks only report nil; Wait is a join point, not an error gate.
	_ = g.Wait()

	pkg.Media = types.MediaRefs{Audio: audioRef, Video: videoRef}
	if audioRef == "" {
		// Fall back to the snippet as the primary audio reference so
		// audio-only evidence remains valid even without a live recorder.
		pkg.Media.Audio = triggerRef
	}
	pkg.Location = loc

	seal(pkg)

	// The descriptor write uses its own context: once sealed, the package
	// is persisted even if the triggering context has been cancelled, so a
	// mid-flight cancellation leaves a complete record of what exists.
	if err := a.store.WriteDescriptor(pkg); err != nil {
		a.busy.Store(false)
		if a.onComplete != nil {
			a.onComplete(nil, err)
		}
		return
	}

	slog.Info("evidence: package assembled",
		"evidence_id", id,
		"threat", pkg.Threat,
		"has_audio", pkg.Media.Audio != "",
		"has_video", pkg.Media.Video != "",
		"has_location", pkg.Location != nil,
		"took", time.Since(started),
	)

	if a.onComplete != nil {
		a.onComplete(pkg, nil)
	}
}
