// Package classifier defines the Detector interface for acoustic threat
// classification backends.
//
// A Detector maps one raw audio frame to a DetectionResult: a scream
// confidence and a trigger-keyword confidence. This is an approximate
// acoustic-pattern classifier, not speech recognition — false positives and
// negatives are expected and are bounded downstream by the trigger
// debouncer, not eliminated here.
//
// Detection is synchronous by design: Detect returns immediately with a
// result, making it suitable for the low-latency audio cycle. The whole
// call must stay inside the frame budget (under 100ms) to preserve the
// end-to-end response SLA.
//
// Two backends ship with Aegis: the always-available heuristic (subpackage
// heuristic) and an asset-backed model (subpackage model) that silently
// degrades to the heuristic when its asset is missing or corrupt. The
// backend is chosen once at initialisation.
//
// Implementations must be safe for concurrent use.
package classifier

import (
	"github.com/quietharbor/aegis/pkg/types"
)

// Detector is the acoustic classification contract shared by all backends.
type Detector interface {
	// Detect analyses a single audio frame and returns the detection
	// result. It is a pure function of the frame: no side effects, no
	// retained state, and it must not block.
	Detect(frame types.AudioFrame) (types.DetectionResult, error)
}

// Config holds the tuned acoustic thresholds for the heuristic criteria.
//
// The numeric defaults were iterated empirically against one speech profile
// and carry no formal acoustic model behind them — treat them as a
// reference baseline and tune per deployment via configuration.
type Config struct {
	// Keyword is the label reported in DetectionResult.TriggeredKeyword
	// when the trigger pattern matches.
	Keyword string

	// TriggerThreshold is the weighted-criteria sum the keyword detection
	// must clear to fire. Range [0, 1].
	TriggerThreshold float64

	// ZCRLow and ZCRHigh bound the zero-crossing-rate band of a voiced
	// single-syllable utterance (crossings per sample).
	ZCRLow, ZCRHigh float64

	// MinRMS is the minimum normalised loudness for any detection.
	MinRMS float64

	// MinEnergyVariance is the floor on windowed-energy variance; flat
	// energy profiles (hums, fans) score zero on this criterion.
	MinEnergyVariance float64

	// MinOnsetStrength is the floor on the onset/offset consonant proxy.
	MinOnsetStrength float64

	// ScreamRMS is the normalised loudness above which a frame starts to
	// count as a scream candidate.
	ScreamRMS float64

	// ScreamZCR is the zero-crossing rate above which a loud frame is
	// treated as a harsh, scream-like vocalisation.
	ScreamZCR float64

	// Weights of the five keyword criteria, in order: single burst, ZCR
	// band, onset/offset strength, loudness, energy variance. They should
	// sum to 1.
	BurstWeight, ZCRWeight, OnsetWeight, LoudnessWeight, VarianceWeight float64
}

// DefaultConfig returns the reference baseline thresholds.
func DefaultConfig() Config {
	return Config{
		Keyword:           "help",
		TriggerThreshold:  0.65,
		ZCRLow:            0.02,
		ZCRHigh:           0.18,
		MinRMS:            0.05,
		MinEnergyVariance: 0.0004,
		MinOnsetStrength:  0.15,
		ScreamRMS:         0.35,
		ScreamZCR:         0.12,
		BurstWeight:       0.30,
		ZCRWeight:         0.20,
		OnsetWeight:       0.20,
		LoudnessWeight:    0.15,
		VarianceWeight:    0.15,
	}
}
