// Package heuristic implements the always-available acoustic classifier
// backend. It scores each frame against a weighted set of hand-tuned
// criteria and never fails: when no trained model is present, this is the
// path the pipeline degrades to.
package heuristic

import (
	"time"

	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/types"
)

// ConfidenceCeiling caps heuristic trigger confidence. The heuristic path
// reports lower certainty than a trained model by contract, so downstream
// thresholds tuned for model output stay meaningful after a fallback.
const ConfidenceCeiling = 0.85

// Detector scores frames with the weighted-criteria heuristic.
// It is stateless and safe for concurrent use.
type Detector struct {
	cfg classifier.Config
}

// Compile-time interface check.
var _ classifier.Detector = (*Detector)(nil)

// New creates a heuristic Detector with the given thresholds. Zero-valued
// weights are replaced by the defaults so a partially filled Config stays
// usable.
func New(cfg classifier.Config) *Detector {
	def := classifier.DefaultConfig()
	if cfg.TriggerThreshold <= 0 {
		cfg.TriggerThreshold = def.TriggerThreshold
	}
	if cfg.Keyword == "" {
		cfg.Keyword = def.Keyword
	}
	if cfg.BurstWeight+cfg.ZCRWeight+cfg.OnsetWeight+cfg.LoudnessWeight+cfg.VarianceWeight == 0 {
		cfg.BurstWeight = def.BurstWeight
		cfg.ZCRWeight = def.ZCRWeight
		cfg.OnsetWeight = def.OnsetWeight
		cfg.LoudnessWeight = def.LoudnessWeight
		cfg.VarianceWeight = def.VarianceWeight
	}
	if cfg.ZCRHigh <= 0 {
		cfg.ZCRLow, cfg.ZCRHigh = def.ZCRLow, def.ZCRHigh
	}
	if cfg.MinRMS <= 0 {
		cfg.MinRMS = def.MinRMS
	}
	if cfg.MinEnergyVariance <= 0 {
		cfg.MinEnergyVariance = def.MinEnergyVariance
	}
	if cfg.MinOnsetStrength <= 0 {
		cfg.MinOnsetStrength = def.MinOnsetStrength
	}
	if cfg.ScreamRMS <= 0 {
		cfg.ScreamRMS = def.ScreamRMS
	}
	if cfg.ScreamZCR <= 0 {
		cfg.ScreamZCR = def.ScreamZCR
	}
	return &Detector{cfg: cfg}
}

// Detect extracts features from the frame and scores the keyword and scream
// patterns. Pure: no state is retained between calls.
func (d *Detector) Detect(frame types.AudioFrame) (types.DetectionResult, error) {
	start := time.Now()
	f := classifier.Extract(frame.PCM)

	res := types.DetectionResult{
		ScreamConfidence:  d.screamConfidence(f),
		TriggerConfidence: d.triggerConfidence(f),
	}
	if res.TriggerConfidence >= d.cfg.TriggerThreshold {
		res.TriggeredKeyword = d.cfg.Keyword
	} else {
		res.TriggerConfidence = min(res.TriggerConfidence, d.cfg.TriggerThreshold-0.01)
	}
	res.Latency = time.Since(start)
	return res, nil
}

// triggerConfidence is the weighted sum of the five keyword criteria.
// Each satisfied criterion contributes its full weight; loudness and
// variance contribute proportionally below their floors so near-misses are
// distinguishable from silence.
func (d *Detector) triggerConfidence(f classifier.Features) float64 {
	cfg := d.cfg
	var score float64

	// Exactly one energy burst — a single-syllable proxy.
	if f.BurstCount == 1 {
		score += cfg.BurstWeight
	}

	// Zero-crossing rate inside the voiced band.
	if f.ZCR >= cfg.ZCRLow && f.ZCR <= cfg.ZCRHigh {
		score += cfg.ZCRWeight
	}

	// Hard consonant onset/offset.
	if f.OnsetStrength >= cfg.MinOnsetStrength {
		score += cfg.OnsetWeight
	}

	// Minimum loudness, partial credit below the floor.
	if f.RMS >= cfg.MinRMS {
		score += cfg.LoudnessWeight
	} else {
		score += cfg.LoudnessWeight * (f.RMS / cfg.MinRMS) * 0.5
	}

	// Minimum articulation (energy variance), partial credit below floor.
	if f.EnergyVariance >= cfg.MinEnergyVariance {
		score += cfg.VarianceWeight
	} else {
		score += cfg.VarianceWeight * (f.EnergyVariance / cfg.MinEnergyVariance) * 0.5
	}

	return min(score, ConfidenceCeiling)
}

// screamConfidence scores sustained loud, harsh vocalisation: loudness above
// the scream floor scaled by zero-crossing harshness and near-clipping peaks.
func (d *Detector) screamConfidence(f classifier.Features) float64 {
	cfg := d.cfg
	if f.RMS < cfg.ScreamRMS {
		return (f.RMS / cfg.ScreamRMS) * 0.3
	}
	score := 0.5 + 0.3*min((f.RMS-cfg.ScreamRMS)/(1-cfg.ScreamRMS)*2, 1)
	if f.ZCR >= cfg.ScreamZCR {
		score += 0.1
	}
	if f.Peak > 0.9 {
		score += 0.1
	}
	return min(score, ConfidenceCeiling)
}
