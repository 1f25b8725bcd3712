package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// App
	if cfg.App.LogLevel != "" && !cfg.App.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("app.log_level %q is invalid; valid values: debug, info, warn, error", cfg.App.LogLevel))
	}
	if cfg.App.EvidenceDir == "" {
		errs = append(errs, errors.New("app.evidence_dir is required"))
	}

	// Classifier
	if t := cfg.Classifier.TriggerThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("classifier.trigger_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Classifier.ScreamThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("classifier.scream_threshold %.2f is out of range [0, 1]", t))
	}

	// Debounce
	if cfg.Debounce.Threshold < 0 {
		errs = append(errs, fmt.Errorf("debounce.threshold %d must not be negative", cfg.Debounce.Threshold))
	}
	if cfg.Debounce.Timeout < 0 {
		errs = append(errs, fmt.Errorf("debounce.timeout %v must not be negative", cfg.Debounce.Timeout))
	}

	// Fusion
	if w := cfg.Fusion.Weights; !w.IsZero() {
		if w.Audio < 0 || w.Motion < 0 || w.Proximity < 0 || w.Visual < 0 {
			errs = append(errs, fmt.Errorf("fusion.weights must be non-negative: %+v", w))
		} else if sum := w.Audio + w.Motion + w.Proximity + w.Visual; math.Abs(sum-1) > 1e-6 {
			errs = append(errs, fmt.Errorf("fusion.weights sum to %.4f, want 1", sum))
		}
	}
	if t := cfg.Fusion.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("fusion.threshold %.2f is out of range [0, 1]", t))
	}

	// Mesh
	if cfg.Mesh.MaxHelpers < 0 {
		errs = append(errs, fmt.Errorf("mesh.max_helpers %d must not be negative", cfg.Mesh.MaxHelpers))
	}
	if cfg.Mesh.PathLossExponent < 0 {
		errs = append(errs, fmt.Errorf("mesh.path_loss_exponent %.2f must not be negative", cfg.Mesh.PathLossExponent))
	}
	if cfg.Mesh.RefRSSI > 0 {
		errs = append(errs, fmt.Errorf("mesh.ref_rssi %.1f must be a dBm value (non-positive)", cfg.Mesh.RefRSSI))
	}
	if cfg.Mesh.RelayURL == "" {
		slog.Warn("mesh.relay_url is empty; peer broadcast will be disabled")
	}

	// Ledger
	if cfg.Ledger.QueueBackend != "" && !cfg.Ledger.QueueBackend.IsValid() {
		errs = append(errs, fmt.Errorf("ledger.queue_backend %q is invalid; valid values: file, postgres", cfg.Ledger.QueueBackend))
	}
	if cfg.Ledger.QueueBackend == QueuePostgres && cfg.Ledger.PostgresDSN == "" {
		errs = append(errs, errors.New("ledger.postgres_dsn is required when queue_backend is postgres"))
	}
	if (cfg.Ledger.QueueBackend == "" || cfg.Ledger.QueueBackend == QueueFile) &&
		cfg.Ledger.GatewayURL != "" && cfg.Ledger.QueuePath == "" {
		errs = append(errs, errors.New("ledger.queue_path is required when anchoring with the file queue backend"))
	}
	if cfg.Ledger.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_retry %d must not be negative", cfg.Ledger.MaxRetry))
	}
	if cfg.Ledger.GatewayURL == "" {
		slog.Warn("ledger.gateway_url is empty; evidence anchoring will be disabled")
	}

	return errors.Join(errs...)
}
