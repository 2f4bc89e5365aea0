// Package audiotest writes small audio fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// Wave returns the sample value in [-1, 1] for a frame and channel.
type Wave func(frame, channel int) float64

// Constant is a DC signal.
func Constant(v float64) Wave {
	return func(int, int) float64 { return v }
}

// Silence is all zeros.
func Silence() Wave {
	return Constant(0)
}

// Sine is a sine tone at freq Hz, identical on every channel.
func Sine(freq float64, sampleRate int, amplitude float64) Wave {
	return func(frame, _ int) float64 {
		return amplitude * math.Sin(2*math.Pi*freq*float64(frame)/float64(sampleRate))
	}
}

// WriteWAV writes an integer PCM WAV file at path and returns path.
func WriteWAV(tb testing.TB, path string, sampleRate, bitDepth, channels, frames int, wave Wave) string {
	tb.Helper()

	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	full := float64(int64(1)<<(bitDepth-1)) - 1
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := int(math.Round(wave(i, ch) * full))
			if bitDepth == 8 {
				v += 128
			}
			data = append(data, v)
		}
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(tb, enc.Write(buf))
	require.NoError(tb, enc.Close())
	return path
}

// WriteFile writes raw bytes, for corrupt or empty fixtures.
func WriteFile(tb testing.TB, path string, data []byte) string {
	tb.Helper()
	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(tb, os.WriteFile(path, data, 0o644))
	return path
}
