package config

import "testing"

func baseConfig() *Config {
	return &Config{
		App: AppConfig{LogLevel: LogInfo, EvidenceDir: "/tmp/evidence"},
		Classifier: ClassifierConfig{
			Keyword:          "help",
			TriggerThreshold: 0.65,
			ScreamThreshold:  0.8,
		},
		Debounce: DebounceConfig{Threshold: 3},
		Fusion: FusionConfig{
			Weights:   FusionWeights{Audio: 0.4, Motion: 0.2, Proximity: 0.2, Visual: 0.2},
			Threshold: 0.7,
		},
	}
}

func TestDiffNoChanges(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	if d := Diff(old, new); d.Any() {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.App.LogLevel = LogDebug
	new.Classifier.TriggerThreshold = 0.7
	new.Debounce.Threshold = 4
	new.Fusion.Threshold = 0.75

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("log level change not detected: %+v", d)
	}
	if !d.ClassifierChanged {
		t.Error("classifier change not detected")
	}
	if !d.DebounceChanged {
		t.Error("debounce change not detected")
	}
	if !d.FusionChanged {
		t.Error("fusion change not detected")
	}
}

func TestDiffIgnoresRestartOnlySettings(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.Mesh.RelayURL = "ws://other:8700/mesh"
	new.Ledger.GatewayURL = "https://other.example.com"

	if d := Diff(old, new); d.Any() {
		t.Errorf("restart-only settings reported as hot-reloadable: %+v", d)
	}
}
