package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
app:
  log_level: info
  evidence_dir: /var/lib/aegis/evidence
classifier:
  keyword: help
  trigger_threshold: 0.65
  scream_threshold: 0.8
debounce:
  threshold: 3
  timeout: 10s
fusion:
  weights:
    audio: 0.4
    motion: 0.2
    proximity: 0.2
    visual: 0.2
  threshold: 0.7
mesh:
  available_as_helper: true
  share_location: true
  relay_url: ws://localhost:8700/mesh
  max_helpers: 16
  staleness: 30s
  ref_rssi: -59
  path_loss_exponent: 2.0
ledger:
  gateway_url: https://ledger.example.com
  queue_backend: file
  queue_path: /var/lib/aegis/anchors.jsonl
  max_retry: 5
  online_interval: 30s
  offline_interval: 5m
observe:
  metrics_addr: ":9090"
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.App.LogLevel != LogInfo {
		t.Errorf("log level = %q, want info", cfg.App.LogLevel)
	}
	if cfg.Classifier.Keyword != "help" {
		t.Errorf("keyword = %q", cfg.Classifier.Keyword)
	}
	if cfg.Debounce.Threshold != 3 || cfg.Debounce.Timeout != 10*time.Second {
		t.Errorf("debounce = %+v", cfg.Debounce)
	}
	if cfg.Fusion.Weights.Audio != 0.4 {
		t.Errorf("fusion audio weight = %v", cfg.Fusion.Weights.Audio)
	}
	if cfg.Mesh.RefRSSI != -59 {
		t.Errorf("ref rssi = %v", cfg.Mesh.RefRSSI)
	}
	if cfg.Ledger.QueueBackend != QueueFile {
		t.Errorf("queue backend = %q", cfg.Ledger.QueueBackend)
	}
	if cfg.Ledger.OfflineInterval != 5*time.Minute {
		t.Errorf("offline interval = %v", cfg.Ledger.OfflineInterval)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	const yml = `
app:
  evidence_dir: /tmp/evidence
  no_such_field: true
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	const yml = `
app:
  log_level: loud
classifier:
  trigger_threshold: 1.5
debounce:
  threshold: -1
fusion:
  weights:
    audio: 0.9
    motion: 0.9
  threshold: 0.7
ledger:
  queue_backend: carrier-pigeon
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{
		"app.log_level",
		"app.evidence_dir",
		"classifier.trigger_threshold",
		"debounce.threshold",
		"fusion.weights sum",
		"ledger.queue_backend",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidatePostgresBackendNeedsDSN(t *testing.T) {
	t.Parallel()

	const yml = `
app:
  evidence_dir: /tmp/evidence
ledger:
  gateway_url: https://ledger.example.com
  queue_backend: postgres
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil || !strings.Contains(err.Error(), "ledger.postgres_dsn") {
		t.Fatalf("err = %v, want postgres_dsn requirement", err)
	}
}

func TestValidateFileBackendNeedsQueuePath(t *testing.T) {
	t.Parallel()

	const yml = `
app:
  evidence_dir: /tmp/evidence
ledger:
  gateway_url: https://ledger.example.com
`
	_, err := LoadFromReader(strings.NewReader(yml))
	if err == nil || !strings.Contains(err.Error(), "ledger.queue_path") {
		t.Fatalf("err = %v, want queue_path requirement", err)
	}
}
