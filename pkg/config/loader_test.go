package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 64*1024, cfg.Server.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Server.ChunkTimeout)
	assert.True(t, cfg.Server.LegacyContentType)
	assert.Equal(t, int64(50<<20), cfg.Media.MaxUploadBytes)
	assert.Equal(t, 65, cfg.Analysis.NumBars)
	assert.False(t, cfg.Analysis.PlaceholderOnFailure)
	assert.True(t, cfg.Media.ExtensionSet()[".flac"])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracksrv.yaml")
	data := `
server:
  addr: ":9090"
  strict_range_status: true
  chunk_timeout: 5s
media:
  root: /srv/media
  allowed_extensions: [mp3, .WAV]
analysis:
  num_bars: 100
  placeholder_on_failure: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Server.StrictRangeStatus)
	assert.Equal(t, 5*time.Second, cfg.Server.ChunkTimeout)
	assert.Equal(t, "/srv/media", cfg.Media.Root)
	assert.Equal(t, map[string]bool{".mp3": true, ".wav": true}, cfg.Media.ExtensionSet())
	assert.Equal(t, 100, cfg.Analysis.NumBars)
	assert.True(t, cfg.Analysis.PlaceholderOnFailure)
	// untouched keys keep their defaults
	assert.Equal(t, 64*1024, cfg.Server.ChunkSize)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TRACKSRV_SERVER_ADDR", ":7070")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Server.ChunkSize = 0 }},
		{"empty root", func(c *Config) { c.Media.Root = "" }},
		{"zero upload limit", func(c *Config) { c.Media.MaxUploadBytes = 0 }},
		{"no extensions", func(c *Config) { c.Media.AllowedExtensions = []string{" "} }},
		{"zero bars", func(c *Config) { c.Analysis.NumBars = 0 }},
		{"zero workers", func(c *Config) { c.Analysis.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Analysis.QueueSize = 0 }},
		{"empty store", func(c *Config) { c.Store.Path = "" }},
	}

	require.NoError(t, Validate(DefaultConfig()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
