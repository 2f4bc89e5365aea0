package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader reading configPath, or searching the usual
// locations for .tracksrv.yaml when configPath is empty.
func NewLoader(configPath string) *Loader {
	return NewLoaderWithViper(viper.New(), configPath)
}

// NewLoaderWithViper lets the CLI share its viper instance so bound flags
// take part in the lookup.
func NewLoaderWithViper(v *viper.Viper, configPath string) *Loader {
	v.SetEnvPrefix("TRACKSRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(".")
		if home != "" {
			v.AddConfigPath(home)
		}
		v.AddConfigPath("/etc/tracksrv")
		v.SetConfigName(".tracksrv")
		v.SetConfigType("yaml")
	}

	return &Loader{viper: v}
}

// Load reads and returns the configuration
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if err := l.viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - defaults and env vars apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.viper.SetDefault("server.addr", d.Server.Addr)
	l.viper.SetDefault("server.chunk_size", d.Server.ChunkSize)
	l.viper.SetDefault("server.chunk_timeout", d.Server.ChunkTimeout)
	l.viper.SetDefault("server.strict_range_status", d.Server.StrictRangeStatus)
	l.viper.SetDefault("server.legacy_content_type", d.Server.LegacyContentType)

	l.viper.SetDefault("media.root", d.Media.Root)
	l.viper.SetDefault("media.max_upload_bytes", d.Media.MaxUploadBytes)
	l.viper.SetDefault("media.allowed_extensions", d.Media.AllowedExtensions)

	l.viper.SetDefault("analysis.num_bars", d.Analysis.NumBars)
	l.viper.SetDefault("analysis.workers", d.Analysis.Workers)
	l.viper.SetDefault("analysis.queue_size", d.Analysis.QueueSize)
	l.viper.SetDefault("analysis.placeholder_on_failure", d.Analysis.PlaceholderOnFailure)
	l.viper.SetDefault("analysis.timeout", d.Analysis.Timeout)

	l.viper.SetDefault("store.path", d.Store.Path)

	l.viper.SetDefault("logging.level", d.Logging.Level)
	l.viper.SetDefault("logging.format", d.Logging.Format)
	l.viper.SetDefault("logging.output", d.Logging.Output)
	l.viper.SetDefault("logging.timestamp", d.Logging.Timestamp)
	l.viper.SetDefault("logging.caller", d.Logging.Caller)
	l.viper.SetDefault("logging.no_color", d.Logging.NoColor)
}

// Validate checks the configuration for values the service cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.ChunkSize <= 0 {
		return fmt.Errorf("server.chunk_size must be positive")
	}
	if cfg.Server.ChunkTimeout < 0 {
		return fmt.Errorf("server.chunk_timeout cannot be negative")
	}
	if cfg.Media.Root == "" {
		return fmt.Errorf("media.root is required")
	}
	if cfg.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("media.max_upload_bytes must be positive")
	}
	if len(cfg.Media.ExtensionSet()) == 0 {
		return fmt.Errorf("media.allowed_extensions cannot be empty")
	}
	if cfg.Analysis.NumBars <= 0 {
		return fmt.Errorf("analysis.num_bars must be positive")
	}
	if cfg.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be positive")
	}
	if cfg.Analysis.QueueSize <= 0 {
		return fmt.Errorf("analysis.queue_size must be positive")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
