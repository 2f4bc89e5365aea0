// Package analysis derives display attributes from stored audio: a fixed
// length waveform and a duration in seconds.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nzoschke/tracksrv/pkg/decode"
	"github.com/nzoschke/tracksrv/pkg/logger"
)

// TrackAnalysis is the result of analyzing one file. It is also the format
// of the JSON sidecars written by AnalyzeDir.
type TrackAnalysis struct {
	File       string   `json:"file"`
	Duration   *uint32  `json:"duration,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Channels   int      `json:"channels,omitempty"`
	Waveform   Waveform `json:"waveform_data,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Failed reports whether decoding failed.
func (ta *TrackAnalysis) Failed() bool {
	return ta.Error != ""
}

// WriteJSON writes the analysis to a JSON file.
func (ta *TrackAnalysis) WriteJSON(path string) error {
	data, err := json.MarshalIndent(ta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Source decodes audio and reports its duration. *decode.Registry
// implements it.
type Source interface {
	DurationSource
	Decode(ctx context.Context, path string) (*decode.Decoded, error)
}

// Options tune an Analyzer.
type Options struct {
	// NumBars is the waveform length. Zero means DefaultNumBars.
	NumBars int
	// PlaceholderOnFailure stores a flat waveform instead of none when the
	// audio cannot be decoded.
	PlaceholderOnFailure bool
	// Timeout bounds a single file's analysis. Zero means no limit.
	Timeout time.Duration
}

// Analyzer runs waveform extraction and duration probing on a file.
type Analyzer struct {
	src  Source
	opts Options

	// fallback supplies the duration after a failed decode. It uses a
	// metadata-only probe when src offers one so the file is not decoded twice.
	fallback *Prober
}

// New creates an Analyzer decoding through src.
func New(src Source, opts Options) *Analyzer {
	if opts.NumBars <= 0 {
		opts.NumBars = DefaultNumBars
	}
	var fallback DurationSource = src
	if m, ok := src.(MetadataSource); ok {
		fallback = metadataOnly{m}
	}
	return &Analyzer{
		src:      src,
		opts:     opts,
		fallback: NewProber(fallback),
	}
}

// NumBars is the configured waveform length.
func (a *Analyzer) NumBars() int {
	return a.opts.NumBars
}

// AnalyzeFile decodes path once and derives the waveform and duration from
// the decoded audio. Decode failures never surface as errors: the waveform
// is left nil (or the placeholder) and the duration falls back to a
// metadata probe. The returned error is only ever a context error.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*TrackAnalysis, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	log := logger.FromContext(ctx).With().Str("file", filepath.Base(path)).Logger()

	result := &TrackAnalysis{File: filepath.Base(path)}

	start := time.Now()
	dec, err := a.src.Decode(ctx, path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Warn().Err(err).Msg("Could not decode audio")
		result = a.failed(path, err)
		if secs, ok := a.fallback.Probe(ctx, path); ok {
			result.Duration = &secs
		}
		return result, nil
	}

	result.SampleRate = dec.SampleRate
	result.Channels = dec.Channels
	result.Waveform = ExtractWaveform(dec.Samples, a.opts.NumBars)
	if secs, ok := Seconds(dec.Duration()); ok {
		result.Duration = &secs
	}

	log.Debug().
		Int("samples", len(dec.Samples)).
		Int("sample_rate", dec.SampleRate).
		Dur("elapsed", time.Since(start)).
		Msg("Analyzed audio")
	return result, nil
}

// failed is the result recorded when path could not be analyzed.
func (a *Analyzer) failed(path string, err error) *TrackAnalysis {
	res := &TrackAnalysis{File: filepath.Base(path), Error: err.Error()}
	if a.opts.PlaceholderOnFailure {
		res.Waveform = PlaceholderWaveform(a.opts.NumBars)
	}
	return res
}

// canceled is the result recorded for a job whose analysis was interrupted.
func (a *Analyzer) canceled(path string, err error) *TrackAnalysis {
	return a.failed(path, fmt.Errorf("analysis canceled: %w", err))
}

// AnalyzeDir recursively analyzes all audio files in a directory.
// For each audio file, it creates a corresponding .json sidecar file.
// If force is true, existing JSON files are overwritten. It returns the
// number of files analyzed.
func (a *Analyzer) AnalyzeDir(ctx context.Context, dir string, force bool) (int, error) {
	log := logger.WithComponent("analyze")
	count := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !isSupportedAudio(ext) {
			return nil
		}

		jsonPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		if !force {
			if _, err := os.Stat(jsonPath); err == nil {
				log.Info().Str("file", filepath.Base(path)).Msg("Skipping, already analyzed")
				return nil
			}
		}

		log.Info().Str("file", filepath.Base(path)).Msg("Analyzing")
		ta, err := a.AnalyzeFile(ctx, path)
		if err != nil {
			return err
		}
		if err := ta.WriteJSON(jsonPath); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		count++

		ev := log.Info().Str("file", ta.File).Int("bars", len(ta.Waveform))
		if ta.Duration != nil {
			ev = ev.Uint32("duration", *ta.Duration)
		}
		if ta.Failed() {
			ev = ev.Str("error", ta.Error)
		}
		ev.Msg("Wrote analysis")
		return nil
	})
	return count, err
}

// isSupportedAudio returns true if the file extension is a supported audio format.
func isSupportedAudio(ext string) bool {
	switch ext {
	case ".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg":
		return true
	default:
		return false
	}
}
