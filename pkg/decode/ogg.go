package decode

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jfreymuth/oggvorbis"
)

// Vorbis decodes Ogg Vorbis files.
type Vorbis struct{}

func (Vorbis) Decode(ctx context.Context, path string) (*Decoded, error) {
	f, err := openAudio(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, unsupported("ogg", err)
	}
	channels := r.Channels()
	if channels <= 0 {
		return nil, unsupported("ogg", errors.New("no channels"))
	}

	var samples []float32
	if n := r.Length(); n > 0 {
		samples = make([]float32, 0, n)
	}
	buf := make([]float32, 4096*channels)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		samples = appendMono(samples, buf[:n], channels)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, unsupported("ogg", err)
		}
	}
	return finish(samples, r.SampleRate(), channels)
}

// Probe reads the granule position of the last page.
func (Vorbis) Probe(_ context.Context, path string) (time.Duration, error) {
	f, err := openAudio(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, err := oggvorbis.NewReader(f)
	if err != nil {
		return 0, unsupported("ogg", err)
	}
	if r.Length() <= 0 || r.SampleRate() <= 0 {
		return 0, ErrEmpty
	}
	return time.Duration(r.Length()) * time.Second / time.Duration(r.SampleRate()), nil
}
