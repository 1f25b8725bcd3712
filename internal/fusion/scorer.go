// Package fusion combines per-sensor threat confidences into a single risk
// score.
//
// The scorer is a stateless weighted combinator: it holds no state beyond
// the latest confidence it was given per sensor. Sensor workers never
// mutate shared fields directly — readings arrive over a single-consumer
// channel drained by Consume, which is the only writer.
package fusion

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// DefaultThreshold is the fused score at or above which IsThreat reports
// danger.
const DefaultThreshold = 0.7

// Weights holds the per-sensor contribution factors. They must be
// non-negative and sum to 1.
type Weights struct {
	Audio     float64
	Motion    float64
	Proximity float64
	Visual    float64
}

// DefaultWeights returns the reference weighting.
func DefaultWeights() Weights {
	return Weights{Audio: 0.4, Motion: 0.2, Proximity: 0.2, Visual: 0.2}
}

// Validate checks that the weights are non-negative and sum to 1 within a
// small tolerance.
func (w Weights) Validate() error {
	if w.Audio < 0 || w.Motion < 0 || w.Proximity < 0 || w.Visual < 0 {
		return fmt.Errorf("fusion: weights must be non-negative: %+v", w)
	}
	sum := w.Audio + w.Motion + w.Proximity + w.Visual
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("fusion: weights sum to %v, want 1", sum)
	}
	return nil
}

// Scorer fuses the latest per-sensor confidences into one risk score.
// Safe for concurrent use: Score may be called at a higher frequency than
// the audio cycle while Consume updates the inputs.
type Scorer struct {
	weights   Weights
	threshold float64

	mu     sync.RWMutex
	latest map[types.SensorKind]float64
}

// New creates a Scorer. Invalid weights are replaced by the defaults; a
// non-positive threshold falls back to DefaultThreshold.
func New(weights Weights, threshold float64) *Scorer {
	if weights.Validate() != nil {
		weights = DefaultWeights()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{
		weights:   weights,
		threshold: threshold,
		latest:    make(map[types.SensorKind]float64, 4),
	}
}

// Combine is the pure fusion function: a weighted sum of the four
// confidences, clamped to [0, 1]. Monotone non-decreasing in every input.
func (s *Scorer) Combine(audio, motion, proximity, visual float64) float64 {
	score := s.weights.Audio*clamp01(audio) +
		s.weights.Motion*clamp01(motion) +
		s.weights.Proximity*clamp01(proximity) +
		s.weights.Visual*clamp01(visual)
	return clamp01(score)
}

// Update records the latest confidence for one sensor.
func (s *Scorer) Update(kind types.SensorKind, confidence float64) {
	s.mu.Lock()
	s.latest[kind] = clamp01(confidence)
	s.mu.Unlock()
}

// Score recomputes the assessment from the latest per-sensor inputs.
func (s *Scorer) Score() types.RiskAssessment {
	s.mu.RLock()
	contributing := make(map[types.SensorKind]float64, len(s.latest))
	for k, v := range s.latest {
		contributing[k] = v
	}
	s.mu.RUnlock()

	return types.RiskAssessment{
		Score: s.Combine(
			contributing[types.SensorAudio],
			contributing[types.SensorMotion],
			contributing[types.SensorProximity],
			contributing[types.SensorVisual],
		),
		Contributing: contributing,
		Assessed:     time.Now(),
	}
}

// IsThreat reports whether the current fused score meets the threshold.
func (s *Scorer) IsThreat() bool {
	return s.Score().Score >= s.threshold
}

// Snapshot returns a copy of the latest per-sensor confidences, for the
// evidence assembler's sensor snapshot.
func (s *Scorer) Snapshot() map[types.SensorKind]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[types.SensorKind]float64, len(s.latest))
	for k, v := range s.latest {
		snap[k] = v
	}
	return snap
}

// Consume drains readings until the channel closes or ctx is done. It is
// the single writer for the scorer's inputs. When the fused score crosses
// the threshold from below, onThreat is called once with the assessment;
// it is re-armed after the score falls back under the threshold.
func (s *Scorer) Consume(ctx context.Context, readings <-chan types.SensorReading, onThreat func(types.RiskAssessment)) {
	armed := true
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			s.Update(r.Kind, r.Confidence)

			assessment := s.Score()
			if assessment.Score >= s.threshold {
				if armed && onThreat != nil {
					onThreat(assessment)
				}
				armed = false
			} else {
				armed = true
			}
		}
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
