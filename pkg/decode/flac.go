package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/flac"
)

// FLAC decodes 16 and 24 bit FLAC files. The decoder rejects other depths.
type FLAC struct{}

func (FLAC) Decode(ctx context.Context, path string) (*Decoded, error) {
	f, err := openAudio(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := flac.NewDecoder(f)
	if err != nil {
		return nil, unsupported("flac", err)
	}
	depth := dec.BitsPerSample
	channels := dec.NChannels
	divisor := sampleDivisor(depth)
	if depth == 8 || divisor == 0 || channels <= 0 {
		return nil, unsupported("flac", fmt.Errorf("%d-bit, %d channels", depth, channels))
	}
	width := depth / 8

	var samples []float32
	if total := int64(dec.TotalSamples); total > 0 {
		samples = make([]float32, 0, total)
	}
	var interleaved []float32
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, unsupported("flac", err)
		}

		interleaved = interleaved[:0]
		for i := 0; i+width <= len(frame); i += width {
			var v int32
			switch depth {
			case 16:
				v = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 24:
				v = int32(frame[i]) | int32(frame[i+1])<<8 | int32(frame[i+2])<<16
				if v&0x800000 != 0 {
					v |= -1 << 24
				}
			}
			interleaved = append(interleaved, float32(v)/divisor)
		}
		samples = appendMono(samples, interleaved, channels)
	}
	return finish(samples, dec.SampleRate, channels)
}

// Probe reads the total sample count from STREAMINFO.
func (FLAC) Probe(_ context.Context, path string) (time.Duration, error) {
	f, err := openAudio(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := flac.NewDecoder(f)
	if err != nil {
		return 0, unsupported("flac", err)
	}
	total := int64(dec.TotalSamples)
	if total <= 0 || dec.SampleRate <= 0 {
		return 0, ErrEmpty
	}
	return time.Duration(total) * time.Second / time.Duration(dec.SampleRate), nil
}
