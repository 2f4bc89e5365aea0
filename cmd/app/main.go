// CLI for the track streaming server and offline waveform analysis.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nzoschke/tracksrv/pkg/analysis"
	"github.com/nzoschke/tracksrv/pkg/config"
	"github.com/nzoschke/tracksrv/pkg/decode"
	"github.com/nzoschke/tracksrv/pkg/logger"
	"github.com/nzoschke/tracksrv/pkg/media"
	"github.com/nzoschke/tracksrv/pkg/metrics"
	"github.com/nzoschke/tracksrv/pkg/server"
	"github.com/nzoschke/tracksrv/pkg/store"
)

var (
	configPath string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Audio track streaming and waveform analysis",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return v.BindPFlags(cmd.Flags())
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming and upload server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Analyze audio files and create JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		return runAnalyze(cmd.Context(), cfg, args[0], force)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <owner> <file>",
	Short: "Copy an audio file into the library and analyze it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		return runIngest(cmd.Context(), cfg, args[0], args[1], title)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default .tracksrv.yaml)")
	rootCmd.PersistentFlags().String("logging.level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("logging.format", "console", "Log format: console or json")

	serveCmd.Flags().String("server.addr", ":8080", "Listen address")
	serveCmd.Flags().String("media.root", "media", "Media root directory")
	serveCmd.Flags().String("store.path", "tracksrv.db", "Song database path")

	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")

	ingestCmd.Flags().String("title", "", "Song title (default file name)")
	ingestCmd.Flags().String("media.root", "media", "Media root directory")
	ingestCmd.Flags().String("store.path", "tracksrv.db", "Song database path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(ingestCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, environment and bound flags, then
// initializes logging.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(v, configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if used := loader.ConfigFileUsed(); used != "" {
		log := logger.Get()
		log.Debug().Str("path", used).Msg("Loaded config")
	}
	return cfg, nil
}

func newAnalyzer(cfg *config.Config) *analysis.Analyzer {
	return analysis.New(decode.NewDefaultRegistry(), analysis.Options{
		NumBars:              cfg.Analysis.NumBars,
		PlaceholderOnFailure: cfg.Analysis.PlaceholderOnFailure,
		Timeout:              cfg.Analysis.Timeout,
	})
}

func runServe(ctx context.Context, cfg *config.Config) error {
	songs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer songs.Close()

	m := metrics.New()
	pool := analysis.NewPool(newAnalyzer(cfg), cfg.Analysis.Workers, cfg.Analysis.QueueSize,
		server.RecordAnalysis(songs), m)

	lib := media.NewLibrary(cfg.Media.Root, cfg.Media.ExtensionSet(), cfg.Server.LegacyContentType)
	srv := server.New(cfg, server.Deps{
		Library: lib,
		Store:   songs,
		Jobs:    pool,
		Metrics: m,
	})

	var placeholder analysis.Waveform
	if cfg.Analysis.PlaceholderOnFailure {
		placeholder = analysis.PlaceholderWaveform(cfg.Analysis.NumBars)
	}
	go func() {
		if _, err := server.ResumePending(ctx, songs, lib, pool, placeholder); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, analysis.ErrPoolClosed) {
			log := logger.Get()
			log.Error().Err(err).Msg("Could not resume pending analysis")
		}
	}()

	runErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Close(closeCtx); err != nil {
		log := logger.Get()
		log.Warn().Err(err).Msg("Analysis workers did not drain")
	}
	return runErr
}

func runAnalyze(ctx context.Context, cfg *config.Config, dir string, force bool) error {
	n, err := newAnalyzer(cfg).AnalyzeDir(ctx, dir, force)
	if err != nil {
		return err
	}
	log := logger.Get()
	log.Info().Int("files", n).Str("dir", dir).Msg("Analysis complete")
	return nil
}

// runIngest stores src for owner the way an upload does, then analyzes it
// in the foreground.
func runIngest(ctx context.Context, cfg *config.Config, owner, src, title string) error {
	lib := media.NewLibrary(cfg.Media.Root, cfg.Media.ExtensionSet(), cfg.Server.LegacyContentType)
	ext := strings.ToLower(filepath.Ext(src))
	if !lib.Allowed(ext) {
		return fmt.Errorf("file type %q not allowed", ext)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}

	songs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer songs.Close()

	id := uuid.NewString()
	filename := id + ext
	size, err := copyInto(lib, owner, filename, src)
	if err != nil {
		return err
	}
	if cfg.Media.MaxUploadBytes > 0 && size > cfg.Media.MaxUploadBytes {
		path, _ := lib.Path(owner, filename)
		_ = os.Remove(path)
		return fmt.Errorf("%s is %d bytes, limit is %d", src, size, cfg.Media.MaxUploadBytes)
	}

	song := &store.Song{
		ID:          id,
		OwnerID:     owner,
		Title:       title,
		Filename:    filename,
		SizeBytes:   size,
		ContentType: lib.ContentType(filename),
	}
	if err := songs.Create(song); err != nil {
		return err
	}

	path, _ := lib.Path(owner, filename)
	res, err := newAnalyzer(cfg).AnalyzeFile(ctx, path)
	if err != nil {
		return err
	}
	if err := server.RecordAnalysis(songs)(ctx, analysis.Job{ID: id, Path: path}, res); err != nil {
		return err
	}

	log := logger.Get()
	ev := log.Info().Str("id", id).Str("owner", owner).Int("bars", len(res.Waveform))
	if res.Duration != nil {
		ev = ev.Uint32("duration", *res.Duration)
	}
	ev.Msg("Ingested song")
	return nil
}

func copyInto(lib *media.Library, owner, filename, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := lib.Create(owner, filename)
	if errors.Is(err, media.ErrInvalidPath) {
		return 0, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out.Name())
	}
	return n, err
}
