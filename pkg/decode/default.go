package decode

import "github.com/nzoschke/tracksrv/pkg/logger"

// FFmpegExtensions are routed to the ffmpeg backend when it is installed.
var FFmpegExtensions = []string{".m4a", ".aac"}

// NewDefaultRegistry registers the pure Go backends and, when the binaries
// are on PATH, ffmpeg for the formats Go cannot decode natively.
func NewDefaultRegistry() *Registry {
	log := logger.WithComponent("decode")

	r := NewRegistry()
	r.Register(".mp3", MP3{})
	r.Register(".wav", WAV{})
	r.Register(".ogg", Vorbis{})
	r.Register(".flac", FLAC{})

	if FFmpegAvailable() {
		for _, ext := range FFmpegExtensions {
			r.Register(ext, FFmpeg{})
		}
	} else {
		log.Warn().Strs("extensions", FFmpegExtensions).Msg("ffmpeg not found, these formats will not be analyzed")
	}

	log.Debug().Strs("extensions", r.Extensions()).Msg("Decoders registered")
	return r
}
