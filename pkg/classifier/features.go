package classifier

import "math"

// windowSamples is the short-analysis window used for burst detection and
// energy-variance computation. At 16kHz this is 10ms of audio.
const windowSamples = 160

// numBands is the size of the coarse banded-energy descriptor fed to
// model-backed detectors.
const numBands = 8

// Features holds the per-frame acoustic descriptors extracted from raw PCM.
type Features struct {
	// RMS is the root-mean-square amplitude normalised to [0, 1].
	RMS float64

	// Peak is the maximum absolute sample normalised to [0, 1].
	Peak float64

	// ZCR is the zero-crossing rate in crossings per sample.
	ZCR float64

	// BurstCount is the number of contiguous high-energy segments above an
	// adaptive threshold — a syllable-count proxy.
	BurstCount int

	// EnergyVariance is the variance of windowed energies, separating
	// articulated speech from steady noise.
	EnergyVariance float64

	// OnsetStrength is the high-band energy concentrated at the edges of
	// the loudest burst relative to its middle — a proxy for the hard
	// consonant onset/offset of a short keyword.
	OnsetStrength float64

	// Bands is the coarse banded-energy descriptor (low to high frequency
	// proxy bands), normalised so the bands sum to 1 when any energy is
	// present. Used by model-backed detectors.
	Bands [numBands]float64
}

// Extract computes the full descriptor set for one frame of 16-bit PCM.
// It is pure and allocation-light; a zero-length frame yields zero features.
func Extract(pcm []int16) Features {
	var f Features
	if len(pcm) == 0 {
		return f
	}

	const fullScale = 32768.0

	// RMS, peak, ZCR in a single pass.
	var sumSq float64
	var peak int32
	crossings := 0
	prevSign := pcm[0] >= 0
	for _, s := range pcm {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		fs := float64(s) / fullScale
		sumSq += fs * fs
		sign := s >= 0
		if sign != prevSign {
			crossings++
			prevSign = sign
		}
	}
	f.RMS = math.Sqrt(sumSq / float64(len(pcm)))
	f.Peak = float64(peak) / fullScale
	f.ZCR = float64(crossings) / float64(len(pcm))

	energies := windowEnergies(pcm)
	f.EnergyVariance = variance(energies)

	// Adaptive burst threshold: scaled off the frame's own RMS energy with
	// an absolute floor so silence never registers bursts.
	threshold := math.Max(f.RMS*f.RMS*1.5, 1e-4)
	start, end := -1, -1
	inBurst := false
	burstStart := 0
	for i, e := range energies {
		if e >= threshold {
			if !inBurst {
				inBurst = true
				burstStart = i
			}
		} else if inBurst {
			inBurst = false
			f.BurstCount++
			if start < 0 || (i-burstStart) > (end-start) {
				start, end = burstStart, i
			}
		}
	}
	if inBurst {
		f.BurstCount++
		if start < 0 || (len(energies)-burstStart) > (end-start) {
			start, end = burstStart, len(energies)
		}
	}

	f.OnsetStrength = onsetStrength(pcm, start, end)
	f.Bands = bandedEnergy(pcm)
	return f
}

// windowEnergies returns the mean squared amplitude of each analysis window.
func windowEnergies(pcm []int16) []float64 {
	const fullScale = 32768.0
	n := len(pcm) / windowSamples
	if n == 0 {
		n = 1
	}
	energies := make([]float64, 0, n)
	for i := 0; i < len(pcm); i += windowSamples {
		end := min(i+windowSamples, len(pcm))
		var sum float64
		for _, s := range pcm[i:end] {
			fs := float64(s) / fullScale
			sum += fs * fs
		}
		energies = append(energies, sum/float64(end-i))
	}
	return energies
}

// onsetStrength measures high-band (first-difference) energy at the edges of
// the window range [start, end) relative to its middle. A single-syllable
// keyword with hard consonants scores high; a pure tone scores near zero.
// Returns 0 when no burst was found.
func onsetStrength(pcm []int16, start, end int) float64 {
	if start < 0 || end <= start {
		return 0
	}
	lo := start * windowSamples
	hi := min(end*windowSamples, len(pcm))
	if hi-lo < 3*windowSamples {
		return 0
	}
	seg := pcm[lo:hi]

	edge := len(seg) / 4
	edgeEnergy := diffEnergy(seg[:edge]) + diffEnergy(seg[len(seg)-edge:])
	midEnergy := diffEnergy(seg[edge : len(seg)-edge])
	total := edgeEnergy + midEnergy
	if total <= 0 {
		return 0
	}
	return edgeEnergy / total
}

// diffEnergy is the mean squared first difference — a cheap high-pass proxy.
func diffEnergy(pcm []int16) float64 {
	if len(pcm) < 2 {
		return 0
	}
	const fullScale = 32768.0
	var sum float64
	for i := 1; i < len(pcm); i++ {
		// Widen before subtracting: a full-swing transition overflows int16.
		d := (float64(pcm[i]) - float64(pcm[i-1])) / fullScale
		sum += d * d
	}
	return sum / float64(len(pcm)-1)
}

// bandedEnergy computes a coarse frequency-proxy descriptor by measuring the
// energy of repeatedly differenced copies of the signal. Band 0 is the raw
// (low-weighted) energy; each following band differences once more, shifting
// weight toward higher frequencies. The result is normalised to sum to 1.
//
// This is deliberately not an FFT: it stays within the frame CPU budget on
// low-end devices and the model backends are trained against it.
func bandedEnergy(pcm []int16) [numBands]float64 {
	var bands [numBands]float64
	if len(pcm) < numBands+1 {
		return bands
	}

	const fullScale = 32768.0
	cur := make([]float64, len(pcm))
	for i, s := range pcm {
		cur[i] = float64(s) / fullScale
	}

	var total float64
	for b := range numBands {
		var sum float64
		for _, v := range cur {
			sum += v * v
		}
		bands[b] = sum / float64(len(cur))
		total += bands[b]

		if b == numBands-1 {
			break
		}
		for i := len(cur) - 1; i > 0; i-- {
			cur[i] -= cur[i-1]
		}
		cur = cur[1:]
	}

	if total > 0 {
		for b := range bands {
			bands[b] /= total
		}
	}
	return bands
}

// variance returns the population variance of xs.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return v / float64(len(xs))
}
