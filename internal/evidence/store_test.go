package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quietharbor/aegis/pkg/types"
)

func TestStore_DescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	pkg := samplePackage()
	pkg.RiskScore = 0.82
	pkg.AudioScore = 0.9
	pkg.AnchorStatus = types.AnchorPending
	seal(pkg)

	if err := store.WriteDescriptor(pkg); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}

	got, err := store.ReadDescriptor(pkg.ID)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if got.ID != pkg.ID || got.Hash != pkg.Hash {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.Threat != types.ThreatVoiceTrigger || got.RiskScore != 0.82 {
		t.Errorf("threat fields lost: %+v", got)
	}
	if !got.Timestamp.Equal(pkg.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, pkg.Timestamp)
	}
	if got.Location == nil || got.Location.Latitude != 52.52 {
		t.Errorf("location lost: %+v", got.Location)
	}
}

func TestStore_SetAnchorStatus(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pkg := samplePackage()
	seal(pkg)
	if err := store.WriteDescriptor(pkg); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}

	if err := store.SetAnchorStatus(pkg.ID, types.AnchorConfirmed, "0xfeed"); err != nil {
		t.Fatalf("SetAnchorStatus: %v", err)
	}

	got, err := store.ReadDescriptor(pkg.ID)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if got.AnchorStatus != types.AnchorConfirmed || got.LedgerTxRef != "0xfeed" {
		t.Errorf("anchor update lost: status=%s tx=%s", got.AnchorStatus, got.LedgerTxRef)
	}
	// The sealed hash must be untouched by the status rewrite.
	if got.Hash != pkg.Hash {
		t.Errorf("hash changed by anchor update: %s vs %s", got.Hash, pkg.Hash)
	}
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pkg := samplePackage()
	seal(pkg)
	if err := store.WriteDescriptor(pkg); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestNewStore_UnwritableDirectory(t *testing.T) {
	t.Parallel()

	// A regular file in place of the directory makes MkdirAll fail.
	path := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewStore(filepath.Join(path, "evidence")); err == nil {
		t.Error("NewStore on unwritable path returned nil error")
	}
}

func TestStore_ArtifactPaths(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id := "ev-9"
	if got := filepath.Base(store.AudioPath(id)); got != "ev-9_audio.opus" {
		t.Errorf("AudioPath base = %q", got)
	}
	if got := filepath.Base(store.VideoPath(id)); got != "ev-9_video.mp4" {
		t.Errorf("VideoPath base = %q", got)
	}
	if got := filepath.Base(store.TriggerAudioPath(id)); got != "ev-9_trigger.opus" {
		t.Errorf("TriggerAudioPath base = %q", got)
	}
}
