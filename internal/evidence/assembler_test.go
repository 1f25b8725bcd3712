package evidence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quietharbor/aegis/pkg/capture"
	"github.com/quietharbor/aegis/pkg/capture/mock"
	"github.com/quietharbor/aegis/pkg/types"
)

// collector gathers completion callbacks for assertions.
type collector struct {
	mu   sync.Mutex
	pkgs []*types.EvidencePackage
	errs []error
	done chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{}, 8)}
}

func (c *collector) complete(pkg *types.EvidencePackage, err error) {
	c.mu.Lock()
	if pkg != nil {
		c.pkgs = append(c.pkgs, pkg)
	}
	if err != nil {
		c.errs = append(c.errs, err)
	}
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("assembly did not complete")
	}
}

func (c *collector) packages() []*types.EvidencePackage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.EvidencePackage(nil), c.pkgs...)
}

func newTestAssembler(t *testing.T, audio, video *mock.Recorder, loc *mock.LocationProvider, c *collector) *Assembler {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg := Config{
		AudioTimeout:    200 * time.Millisecond,
		VideoTimeout:    200 * time.Millisecond,
		LocationTimeout: 200 * time.Millisecond,
	}
	// Avoid typed-nil interface values for the optional collaborators.
	var vr capture.Recorder
	if video != nil {
		vr = video
	}
	var lr capture.LocationProvider
	if loc != nil {
		lr = loc
	}
	return New(store, audio, vr, lr, cfg, c.complete)
}

func TestAssemble_FullCapture(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	video := &mock.Recorder{}
	loc := &mock.LocationProvider{Fix: types.Location{Latitude: 48.1, Longitude: 11.6, Accuracy: 8}}
	c := newCollector()
	a := newTestAssembler(t, audio, video, loc, c)

	id, err := a.Assemble(context.Background(), Trigger{
		Threat:          types.ThreatVoiceTrigger,
		RiskScore:       0.8,
		AudioConfidence: 0.9,
		Sensors:         map[types.SensorKind]float64{types.SensorAudio: 0.9},
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	c.wait(t)

	pkgs := c.packages()
	if len(pkgs) != 1 {
		t.Fatalf("packages = %d, want 1", len(pkgs))
	}
	pkg := pkgs[0]
	if pkg.ID != id {
		t.Errorf("package id = %s, want %s", pkg.ID, id)
	}
	if pkg.Hash == "" {
		t.Error("package not sealed")
	}
	if pkg.Media.Audio == "" || pkg.Media.Video == "" {
		t.Errorf("media refs incomplete: %+v", pkg.Media)
	}
	if pkg.Location == nil || pkg.Location.Latitude != 48.1 {
		t.Errorf("location = %+v, want mock fix", pkg.Location)
	}
	if pkg.AnchorStatus != types.AnchorPending {
		t.Errorf("anchor status = %s, want pending", pkg.AnchorStatus)
	}
	if len(audio.Paths) != 1 {
		t.Errorf("audio recorder started %d times, want 1", len(audio.Paths))
	}
}

func TestAssemble_RecordingOutlivesAssembly(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	c := newCollector()
	a := newTestAssembler(t, audio, nil, nil, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := a.Assemble(ctx, Trigger{Threat: types.ThreatManual}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	c.wait(t)

	ctxs := audio.StartContexts()
	if len(ctxs) != 1 {
		t.Fatalf("audio recorder started %d times, want 1", len(ctxs))
	}
	// The recording session must stay live after the package is sealed:
	// only the recorder's Stop ends it, when the incident resolves.
	if err := ctxs[0].Err(); err != nil {
		t.Fatalf("recording context ended at assembly completion: %v", err)
	}

	// Cancelling the triggering context must not tear down the session
	// either; the incident outlives the goroutine that escalated it.
	cancel()
	if err := ctxs[0].Err(); err != nil {
		t.Fatalf("recording context tied to the trigger context: %v", err)
	}
}

func TestAssemble_VideoFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	video := &mock.Recorder{StartErr: errors.New("camera in use")}
	c := newCollector()
	a := newTestAssembler(t, audio, video, nil, c)

	if _, err := a.Assemble(context.Background(), Trigger{Threat: types.ThreatScream}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	c.wait(t)

	pkgs := c.packages()
	if len(pkgs) != 1 {
		t.Fatalf("packages = %d, want 1", len(pkgs))
	}
	if pkgs[0].Media.Video != "" {
		t.Errorf("video ref = %q, want empty after camera failure", pkgs[0].Media.Video)
	}
	if pkgs[0].Media.Audio == "" {
		t.Error("audio-only evidence should remain valid")
	}
}

func TestAssemble_LocationTimeoutYieldsNilLocation(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	loc := &mock.LocationProvider{Delay: time.Second} // beyond the 200ms budget
	c := newCollector()
	a := newTestAssembler(t, audio, nil, loc, c)

	start := time.Now()
	if _, err := a.Assemble(context.Background(), Trigger{Threat: types.ThreatRiskFusion}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	c.wait(t)

	pkgs := c.packages()
	if len(pkgs) != 1 {
		t.Fatalf("packages = %d, want 1", len(pkgs))
	}
	if pkgs[0].Location != nil {
		t.Errorf("location = %+v, want nil after timeout", pkgs[0].Location)
	}
	// The timed-out task must not have blocked assembly for its full delay.
	if took := time.Since(start); took > 900*time.Millisecond {
		t.Errorf("assembly took %v, should be bounded by the task timeout", took)
	}
}

func TestAssemble_SecondTriggerCoalesced(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	c := newCollector()
	a := newTestAssembler(t, audio, nil, nil, c)

	if _, err := a.Assemble(context.Background(), Trigger{Threat: types.ThreatVoiceTrigger}); err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	if _, err := a.Assemble(context.Background(), Trigger{Threat: types.ThreatScream}); !errors.Is(err, ErrAssemblyInFlight) {
		t.Fatalf("second Assemble error = %v, want ErrAssemblyInFlight", err)
	}
	c.wait(t)

	// Still rejected after completion: the incident window stays closed
	// until the orchestrator releases it.
	if _, err := a.Assemble(context.Background(), Trigger{}); !errors.Is(err, ErrAssemblyInFlight) {
		t.Fatalf("post-completion Assemble error = %v, want ErrAssemblyInFlight", err)
	}

	if got := len(c.packages()); got != 1 {
		t.Errorf("packages = %d, want exactly 1", got)
	}
}

func TestAssemble_ReleaseReArms(t *testing.T) {
	t.Parallel()

	audio := &mock.Recorder{}
	c := newCollector()
	a := newTestAssembler(t, audio, nil, nil, c)

	if _, err := a.Assemble(context.Background(), Trigger{}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	c.wait(t)

	a.Release()
	if a.InFlight() {
		t.Error("InFlight after Release")
	}
	if _, err := a.Assemble(context.Background(), Trigger{}); err != nil {
		t.Errorf("Assemble after Release: %v", err)
	}
	c.wait(t)

	if got := len(c.packages()); got != 2 {
		t.Errorf("packages = %d, want 2 across two released windows", got)
	}
}
