package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultNumBars is the number of bars a waveform has unless configured.
	DefaultNumBars = 65

	// waveformFloor is the lowest value a bar of non-silent audio can take,
	// so quiet passages still draw a visible bar.
	waveformFloor = 0.3

	// SilenceLevel is the value of every bar when the audio is silent.
	SilenceLevel = 0.5
)

// Waveform is a fixed-length series of bar heights in [0, 1].
type Waveform []float64

// ExtractWaveform splits samples into numBars equal windows, takes the RMS
// of each, and rescales the bars so the loudest is 1 and the quietest
// non-silent audio sits at 0.3. Silence, and audio with fewer samples than
// bars, gives numBars copies of SilenceLevel.
func ExtractWaveform(samples []float32, numBars int) Waveform {
	if numBars <= 0 {
		numBars = DefaultNumBars
	}

	chunk := len(samples) / numBars
	bars := make([]float64, numBars)
	window := make([]float64, chunk)
	for i := range bars {
		w := bucketWindow(samples, i, chunk)
		bars[i] = rms(w, window[:len(w)])
	}

	peak := floats.Max(bars)
	out := make(Waveform, numBars)
	if peak == 0 {
		for i := range out {
			out[i] = SilenceLevel
		}
		return out
	}
	for i, v := range bars {
		out[i] = math.Min(1, waveformFloor+v/peak*(1-waveformFloor))
	}
	return out
}

// PlaceholderWaveform is the fixed series used in place of a waveform that
// could not be computed.
func PlaceholderWaveform(numBars int) Waveform {
	if numBars <= 0 {
		numBars = DefaultNumBars
	}
	out := make(Waveform, numBars)
	for i := range out {
		out[i] = SilenceLevel
	}
	return out
}

// bucketWindow returns the samples of bar i. A start index past the end
// falls back to the last chunk samples instead of an empty window.
func bucketWindow(samples []float32, i, chunk int) []float32 {
	if chunk <= 0 {
		return nil
	}
	start := i * chunk
	if start >= len(samples) {
		if chunk > len(samples) {
			return samples
		}
		return samples[len(samples)-chunk:]
	}
	end := min(start+chunk, len(samples))
	return samples[start:end]
}

// rms uses scratch, which must have len(w), to widen the window to float64.
func rms(w []float32, scratch []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	for i, v := range w {
		scratch[i] = float64(v)
	}
	return math.Sqrt(floats.Dot(scratch, scratch) / float64(len(w)))
}
