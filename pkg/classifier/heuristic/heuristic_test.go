package heuristic_test

import (
	"math"
	"testing"

	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/classifier/heuristic"
	"github.com/quietharbor/aegis/pkg/types"
)

func frame(pcm []int16) types.AudioFrame {
	return types.AudioFrame{PCM: pcm, SampleRate: 16000}
}

// shout synthesises a single-burst, moderately harsh vocalisation shape:
// silence, one amplitude-modulated mid-frequency burst with sharp edges,
// silence.
func shout(n int, amplitude float64) []int16 {
	pcm := make([]int16, n)
	start, end := n/3, 2*n/3
	for i := start; i < end; i++ {
		pos := float64(i-start) / float64(end-start)
		env := math.Sin(math.Pi * pos) // rises and falls
		// Mid-frequency carrier with a harsher edge component.
		v := env * amplitude * (0.7*math.Sin(2*math.Pi*800*float64(i)/16000) +
			0.3*math.Sin(2*math.Pi*2400*float64(i)/16000))
		pcm[i] = int16(v * 32000)
	}
	return pcm
}

func TestDetect_SilenceDoesNotTrigger(t *testing.T) {
	t.Parallel()

	d := heuristic.New(classifier.DefaultConfig())
	res, err := d.Detect(frame(make([]int16, 4800)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.TriggeredKeyword != "" {
		t.Errorf("silence triggered keyword %q", res.TriggeredKeyword)
	}
	if res.TriggerConfidence >= classifier.DefaultConfig().TriggerThreshold {
		t.Errorf("silence TriggerConfidence = %v, want below threshold", res.TriggerConfidence)
	}
	if res.ScreamConfidence > 0.1 {
		t.Errorf("silence ScreamConfidence = %v, want ≈ 0", res.ScreamConfidence)
	}
}

func TestDetect_SingleSyllableShoutTriggers(t *testing.T) {
	t.Parallel()

	d := heuristic.New(classifier.DefaultConfig())
	res, err := d.Detect(frame(shout(6400, 0.6)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.TriggeredKeyword == "" {
		t.Errorf("shout did not trigger; TriggerConfidence = %v", res.TriggerConfidence)
	}
	if res.TriggeredKeyword != "help" {
		t.Errorf("TriggeredKeyword = %q, want %q", res.TriggeredKeyword, "help")
	}
}

func TestDetect_ConfidenceCeiling(t *testing.T) {
	t.Parallel()

	d := heuristic.New(classifier.DefaultConfig())
	res, err := d.Detect(frame(shout(6400, 0.95)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.TriggerConfidence > heuristic.ConfidenceCeiling {
		t.Errorf("TriggerConfidence = %v exceeds ceiling %v", res.TriggerConfidence, heuristic.ConfidenceCeiling)
	}
	if res.ScreamConfidence > heuristic.ConfidenceCeiling {
		t.Errorf("ScreamConfidence = %v exceeds ceiling %v", res.ScreamConfidence, heuristic.ConfidenceCeiling)
	}
}

func TestDetect_LoudSustainedHarshAudioScoresScream(t *testing.T) {
	t.Parallel()

	// Sustained loud harsh signal, not a single burst.
	pcm := make([]int16, 6400)
	for i := range pcm {
		v := 0.8 * (0.6*math.Sin(2*math.Pi*900*float64(i)/16000) +
			0.4*math.Sin(2*math.Pi*3100*float64(i)/16000))
		pcm[i] = int16(v * 32000)
	}

	d := heuristic.New(classifier.DefaultConfig())
	res, err := d.Detect(frame(pcm))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.ScreamConfidence < 0.5 {
		t.Errorf("ScreamConfidence = %v, want ≥ 0.5 for loud harsh audio", res.ScreamConfidence)
	}
}

func TestDetect_LatencyReported(t *testing.T) {
	t.Parallel()

	d := heuristic.New(classifier.DefaultConfig())
	res, err := d.Detect(frame(shout(6400, 0.6)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", res.Latency)
	}
}

func TestNew_ZeroConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	d := heuristic.New(classifier.Config{})
	res, err := d.Detect(frame(shout(6400, 0.6)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.TriggeredKeyword != "help" {
		t.Errorf("TriggeredKeyword = %q, want default keyword", res.TriggeredKeyword)
	}
}
