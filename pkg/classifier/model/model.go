// Package model implements the asset-backed acoustic classifier backend.
//
// The backend loads a small logistic model (weights over the banded-energy
// descriptor plus the scalar features) from a JSON asset. When the asset is
// missing or corrupt it degrades silently to the heuristic backend — model
// unavailability is never fatal and never surfaces to the caller; the
// fallback simply carries the heuristic's lower confidence ceiling.
//
// The backend is chosen once at initialisation via [Load]; the pipeline
// never switches backends mid-session.
package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/classifier/heuristic"
	"github.com/quietharbor/aegis/pkg/types"
)

// assetVersion is the model asset schema this backend understands.
const assetVersion = 1

// asset is the on-disk JSON model format.
type asset struct {
	Version int `json:"version"`

	// Trigger and Scream are independent logistic heads over the same
	// feature vector: [bands..., rms, zcr, burstCount, energyVariance,
	// onsetStrength].
	Trigger head `json:"trigger"`
	Scream  head `json:"scream"`

	Keyword string `json:"keyword"`
}

type head struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// featureDim is the expected weight-vector length: 8 bands + 5 scalars.
const featureDim = 13

func (h head) valid() bool {
	return len(h.Weights) == featureDim
}

// Detector is the model-backed classifier. Safe for concurrent use —
// the loaded weights are read-only after Load.
type Detector struct {
	a       asset
	cfg     classifier.Config
	trigger float64 // threshold from cfg
}

// Compile-time interface check.
var _ classifier.Detector = (*Detector)(nil)

// Load reads the model asset at path and returns a model-backed Detector.
// On any load or validation failure it logs at debug level and returns the
// heuristic backend instead — callers always get a usable Detector and a
// nil error.
func Load(path string, cfg classifier.Config) classifier.Detector {
	det, err := load(path, cfg)
	if err != nil {
		slog.Debug("classifier model unavailable, using heuristic", "path", path, "err", err)
		return heuristic.New(cfg)
	}
	return det
}

func load(path string, cfg classifier.Config) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read asset: %w", err)
	}
	var a asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("model: parse asset: %w", err)
	}
	if a.Version != assetVersion {
		return nil, fmt.Errorf("model: unsupported asset version %d", a.Version)
	}
	if !a.Trigger.valid() || !a.Scream.valid() {
		return nil, fmt.Errorf("model: malformed weight vectors")
	}

	if cfg.TriggerThreshold <= 0 {
		cfg.TriggerThreshold = classifier.DefaultConfig().TriggerThreshold
	}
	if a.Keyword == "" {
		a.Keyword = cfg.Keyword
	}
	if a.Keyword == "" {
		a.Keyword = classifier.DefaultConfig().Keyword
	}
	return &Detector{a: a, cfg: cfg, trigger: cfg.TriggerThreshold}, nil
}

// Detect extracts features and applies both logistic heads.
func (d *Detector) Detect(frame types.AudioFrame) (types.DetectionResult, error) {
	start := time.Now()
	f := classifier.Extract(frame.PCM)

	vec := featureVector(f)
	res := types.DetectionResult{
		ScreamConfidence:  sigmoid(dot(d.a.Scream.Weights, vec) + d.a.Scream.Bias),
		TriggerConfidence: sigmoid(dot(d.a.Trigger.Weights, vec) + d.a.Trigger.Bias),
	}
	if res.TriggerConfidence >= d.trigger {
		res.TriggeredKeyword = d.a.Keyword
	}
	res.Latency = time.Since(start)
	return res, nil
}

func featureVector(f classifier.Features) []float64 {
	vec := make([]float64, 0, featureDim)
	vec = append(vec, f.Bands[:]...)
	return append(vec,
		f.RMS,
		f.ZCR,
		float64(f.BurstCount),
		f.EnergyVariance,
		f.OnsetStrength,
	)
}

func dot(w, x []float64) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
