package decode

import (
	"context"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAV decodes integer PCM RIFF/WAVE files (8, 16, 24 or 32 bit).
type WAV struct{}

func (WAV) Decode(ctx context.Context, path string) (*Decoded, error) {
	f, err := openAudio(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, unsupported("wav", fmt.Errorf("invalid header"))
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, unsupported("wav", fmt.Errorf("audio format %d is not integer PCM", dec.WavAudioFormat))
	}

	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	divisor := sampleDivisor(depth)
	if divisor == 0 || channels == 0 {
		return nil, unsupported("wav", fmt.Errorf("%d-bit, %d channels", depth, channels))
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, 4096*channels),
		Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
	}
	frame := make([]float32, len(buf.Data))
	var samples []float32
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, unsupported("wav", err)
		}
		if n == 0 {
			break
		}
		for i, v := range buf.Data[:n] {
			if depth == 8 {
				// 8-bit WAV is unsigned.
				v -= 128
			}
			frame[i] = clamp(float32(v) / divisor)
		}
		samples = appendMono(samples, frame[:n], channels)
	}
	return finish(samples, int(dec.SampleRate), channels)
}

// Probe computes duration from the size of the data chunk.
func (WAV) Probe(_ context.Context, path string) (time.Duration, error) {
	f, err := openAudio(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0, unsupported("wav", err)
	}
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth/8)
	if frameBytes == 0 || dec.SampleRate == 0 {
		return 0, unsupported("wav", fmt.Errorf("invalid header"))
	}
	frames := dec.PCMLen() / frameBytes
	if frames == 0 {
		return 0, ErrEmpty
	}
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate), nil
}
