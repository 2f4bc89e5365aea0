// Package decode turns audio files into mono float32 sample streams.
//
// Each container format has a backend implementing Decoder. A Registry maps
// file extensions to backends so callers never depend on a concrete codec.
package decode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnavailable means no backend is registered for the file's extension.
	ErrUnavailable = errors.New("no decoder for format")
	// ErrUnreadable means the file could not be opened or read.
	ErrUnreadable = errors.New("audio file unreadable")
	// ErrUnsupported means the backend rejected the stream as corrupt or of
	// an encoding it cannot handle.
	ErrUnsupported = errors.New("unsupported or corrupt audio")
	// ErrEmpty means the stream decoded to zero samples.
	ErrEmpty = errors.New("audio stream is empty")
)

// IsFailure reports whether err is one of the decode failure kinds.
func IsFailure(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnreadable) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrEmpty)
}

// Decoded is a fully decoded track, already downmixed to mono.
type Decoded struct {
	// Samples holds one value per frame in [-1, 1].
	Samples []float32
	// SampleRate in Hz.
	SampleRate int
	// Channels is the channel count of the source before downmixing.
	Channels int
}

// Duration is the playing time implied by the sample count.
func (d *Decoded) Duration() time.Duration {
	if d == nil || d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(d.Samples)) * time.Second / time.Duration(d.SampleRate)
}

// Decoder decodes the file at path.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Decoded, error)
}

// Prober is implemented by backends that can report duration from
// container metadata without decoding every frame.
type Prober interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// Registry maps lower-case extensions (".mp3") to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register binds ext to d, replacing any previous binding.
func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[normalizeExt(ext)] = d
}

// Lookup returns the decoder bound to ext.
func (r *Registry) Lookup(ext string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[normalizeExt(ext)]
	return d, ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.decoders))
	for ext := range r.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Decode picks a backend from the extension of path and decodes the file.
func (r *Registry) Decode(ctx context.Context, path string) (*Decoded, error) {
	d, err := r.forPath(path)
	if err != nil {
		return nil, err
	}
	return d.Decode(ctx, path)
}

// Probe reports the playing time of the file at path. Backends with
// metadata probing are asked first; otherwise the file is decoded.
func (r *Registry) Probe(ctx context.Context, path string) (time.Duration, error) {
	d, err := r.forPath(path)
	if err != nil {
		return 0, err
	}
	if p, ok := d.(Prober); ok {
		if dur, err := p.Probe(ctx, path); err == nil && dur > 0 {
			return dur, nil
		}
	}
	dec, err := d.Decode(ctx, path)
	if err != nil {
		return 0, err
	}
	return dec.Duration(), nil
}

// ProbeMetadata reports the playing time from the backend's metadata probe
// only. It never decodes, so it is safe to call on a file that just failed to
// decode. Backends without a probe return ErrUnavailable.
func (r *Registry) ProbeMetadata(ctx context.Context, path string) (time.Duration, error) {
	d, err := r.forPath(path)
	if err != nil {
		return 0, err
	}
	p, ok := d.(Prober)
	if !ok {
		return 0, fmt.Errorf("%w: no metadata probe for %q", ErrUnavailable, filepath.Ext(path))
	}
	dur, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, ErrEmpty
	}
	return dur, nil
}

func (r *Registry) forPath(path string) (Decoder, error) {
	ext := filepath.Ext(path)
	d, ok := r.Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnavailable, ext)
	}
	return d, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// openAudio opens path for reading and rejects zero-length files up front.
func openAudio(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrUnreadable, path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ErrEmpty
	}
	return f, nil
}

func finish(samples []float32, sampleRate, channels int) (*Decoded, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, %d channels", ErrUnsupported, sampleRate, channels)
	}
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	return &Decoded{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

func unsupported(format string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnsupported, format, err)
}
