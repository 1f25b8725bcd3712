package evidence

import (
	"testing"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

func samplePackage() *types.EvidencePackage {
	return &types.EvidencePackage{
		ID:        "ev-123",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Media: types.MediaRefs{
			Audio: "/evidence/ev-123_audio.opus",
			Video: "/evidence/ev-123_video.mp4",
		},
		Location: &types.Location{Latitude: 52.52, Longitude: 13.405, Accuracy: 12},
		Threat:   types.ThreatVoiceTrigger,
	}
}

func TestComputeHash_Idempotent(t *testing.T) {
	t.Parallel()

	pkg := samplePackage()
	first := ComputeHash(pkg)
	second := ComputeHash(pkg)
	if first != second {
		t.Errorf("hash not idempotent: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(first))
	}
}

func TestComputeHash_SensitiveToIdentityFields(t *testing.T) {
	t.Parallel()

	base := ComputeHash(samplePackage())

	changedID := samplePackage()
	changedID.ID = "ev-124"
	if ComputeHash(changedID) == base {
		t.Error("hash unchanged after ID change")
	}

	changedTime := samplePackage()
	changedTime.Timestamp = changedTime.Timestamp.Add(time.Millisecond)
	if ComputeHash(changedTime) == base {
		t.Error("hash unchanged after timestamp change")
	}

	changedMedia := samplePackage()
	changedMedia.Media.Audio = "/evidence/other.opus"
	if ComputeHash(changedMedia) == base {
		t.Error("hash unchanged after media change")
	}

	changedLoc := samplePackage()
	changedLoc.Location.Latitude += 0.001
	if ComputeHash(changedLoc) == base {
		t.Error("hash unchanged after location change")
	}
}

func TestComputeHash_IgnoresAnchorLifecycleFields(t *testing.T) {
	t.Parallel()

	pkg := samplePackage()
	base := ComputeHash(pkg)

	pkg.AnchorStatus = types.AnchorConfirmed
	pkg.LedgerTxRef = "0xabc"
	if ComputeHash(pkg) != base {
		t.Error("hash changed with anchor status — lifecycle fields must be excluded")
	}
}

func TestComputeHash_NilLocation(t *testing.T) {
	t.Parallel()

	pkg := samplePackage()
	pkg.Location = nil
	withNil := ComputeHash(pkg)
	if withNil == ComputeHash(samplePackage()) {
		t.Error("nil and non-nil location hash identically")
	}
	// And it is still deterministic.
	if withNil != ComputeHash(pkg) {
		t.Error("nil-location hash not idempotent")
	}
}

func TestSeal_SecondSealPanics(t *testing.T) {
	t.Parallel()

	pkg := samplePackage()
	seal(pkg)
	if pkg.Hash == "" {
		t.Fatal("seal did not set hash")
	}

	defer func() {
		if recover() == nil {
			t.Error("second seal did not panic")
		}
	}()
	seal(pkg)
}
