package model_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/classifier/model"
	"github.com/quietharbor/aegis/pkg/types"
)

// validAsset always fires the trigger head (large positive bias) and never
// the scream head.
const validAsset = `{
	"version": 1,
	"keyword": "help",
	"trigger": {"weights": [0,0,0,0,0,0,0,0,0,0,0,0,0], "bias": 5.0},
	"scream":  {"weights": [0,0,0,0,0,0,0,0,0,0,0,0,0], "bias": -5.0}
}`

func writeAsset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acoustic.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	return path
}

func testFrame() types.AudioFrame {
	pcm := make([]int16, 3200)
	for i := range pcm {
		pcm[i] = int16((i % 100) * 200)
	}
	return types.AudioFrame{PCM: pcm, SampleRate: 16000}
}

func TestLoad_ValidAsset(t *testing.T) {
	t.Parallel()

	det := model.Load(writeAsset(t, validAsset), classifier.DefaultConfig())
	res, err := det.Detect(testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Bias 5.0 → sigmoid ≈ 0.993, above any sane threshold.
	if res.TriggerConfidence < 0.9 {
		t.Errorf("TriggerConfidence = %v, want ≥ 0.9 from the loaded model", res.TriggerConfidence)
	}
	if res.TriggeredKeyword != "help" {
		t.Errorf("TriggeredKeyword = %q, want %q", res.TriggeredKeyword, "help")
	}
	if res.ScreamConfidence > 0.1 {
		t.Errorf("ScreamConfidence = %v, want ≈ 0 with bias -5", res.ScreamConfidence)
	}
}

func TestLoad_MissingAssetFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	det := model.Load(filepath.Join(t.TempDir(), "nope.json"), classifier.DefaultConfig())
	if det == nil {
		t.Fatal("Load returned nil detector")
	}
	// The fallback must produce the same result shape without error.
	if _, err := det.Detect(testFrame()); err != nil {
		t.Errorf("fallback Detect: %v", err)
	}
}

func TestLoad_CorruptAssetFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	det := model.Load(writeAsset(t, `{not json`), classifier.DefaultConfig())
	if _, err := det.Detect(testFrame()); err != nil {
		t.Errorf("fallback Detect: %v", err)
	}
}

func TestLoad_WrongVersionFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	det := model.Load(writeAsset(t, `{"version": 99}`), classifier.DefaultConfig())
	if _, err := det.Detect(testFrame()); err != nil {
		t.Errorf("fallback Detect: %v", err)
	}
}

func TestLoad_TruncatedWeightsFallBackToHeuristic(t *testing.T) {
	t.Parallel()

	det := model.Load(writeAsset(t, `{
		"version": 1,
		"trigger": {"weights": [1, 2], "bias": 0},
		"scream":  {"weights": [1, 2], "bias": 0}
	}`), classifier.DefaultConfig())
	if _, err := det.Detect(testFrame()); err != nil {
		t.Errorf("fallback Detect: %v", err)
	}
}
