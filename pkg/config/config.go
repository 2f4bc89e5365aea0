// Package config holds the immutable service configuration.
package config

import (
	"strings"
	"time"

	"github.com/nzoschke/tracksrv/pkg/logger"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Media    MediaConfig    `yaml:"media" mapstructure:"media"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Logging  logger.Config  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains HTTP and streaming settings
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Size of the copy buffer used when streaming a file.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	// Upper bound for writing a single chunk to a client.
	ChunkTimeout time.Duration `yaml:"chunk_timeout" mapstructure:"chunk_timeout"`

	// Answer out of bounds ranges with 416 instead of 400.
	StrictRangeStatus bool `yaml:"strict_range_status" mapstructure:"strict_range_status"`

	// Always send Content-Type: audio/mpeg instead of deriving it from the file.
	LegacyContentType bool `yaml:"legacy_content_type" mapstructure:"legacy_content_type"`
}

// MediaConfig contains storage and upload limits
type MediaConfig struct {
	Root              string   `yaml:"root" mapstructure:"root"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
}

// AnalysisConfig contains waveform and duration extraction settings
type AnalysisConfig struct {
	NumBars   int `yaml:"num_bars" mapstructure:"num_bars"`
	Workers   int `yaml:"workers" mapstructure:"workers"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`

	// Store a constant 0.5 series when decoding fails instead of leaving the
	// waveform empty.
	PlaceholderOnFailure bool `yaml:"placeholder_on_failure" mapstructure:"placeholder_on_failure"`

	// Maximum time spent analyzing one file.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StoreConfig contains the song record database location
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ChunkSize:         64 * 1024,
			ChunkTimeout:      30 * time.Second,
			StrictRangeStatus: false,
			LegacyContentType: true,
		},
		Media: MediaConfig{
			Root:              "media",
			MaxUploadBytes:    50 << 20,
			AllowedExtensions: []string{".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg"},
		},
		Analysis: AnalysisConfig{
			NumBars:   65,
			Workers:   2,
			QueueSize: 64,
			Timeout:   2 * time.Minute,
		},
		Store: StoreConfig{
			Path: "tracksrv.db",
		},
		Logging: *logger.DefaultConfig(),
	}
}

// ExtensionSet returns the allowed extensions lower-cased with a leading dot.
func (m MediaConfig) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(m.AllowedExtensions))
	for _, ext := range m.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
