package analysis

import (
	"context"
	"math"
	"time"

	"github.com/nzoschke/tracksrv/pkg/logger"
)

// DurationSource reports the playing time of an audio file.
type DurationSource interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// MetadataSource reads the playing time from file headers without decoding.
// *decode.Registry implements it.
type MetadataSource interface {
	ProbeMetadata(ctx context.Context, path string) (time.Duration, error)
}

type metadataOnly struct{ MetadataSource }

func (m metadataOnly) Probe(ctx context.Context, path string) (time.Duration, error) {
	return m.ProbeMetadata(ctx, path)
}

// Prober estimates track length in whole seconds. It never fails: any
// error from the source is logged and reported as an absent duration.
type Prober struct {
	src DurationSource
}

// NewProber creates a prober backed by src, usually a *decode.Registry.
func NewProber(src DurationSource) *Prober {
	return &Prober{src: src}
}

// Probe returns the duration of path in seconds, truncated toward zero.
// ok is false when the duration could not be determined.
func (p *Prober) Probe(ctx context.Context, path string) (seconds uint32, ok bool) {
	if p == nil || p.src == nil {
		return 0, false
	}
	d, err := p.src.Probe(ctx, path)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("path", path).Msg("Duration probe failed")
		return 0, false
	}
	return Seconds(d)
}

// Seconds truncates d to whole seconds. Non-positive durations are absent.
func Seconds(d time.Duration) (uint32, bool) {
	if d <= 0 {
		return 0, false
	}
	s := int64(d / time.Second)
	if s > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(s), true
}
