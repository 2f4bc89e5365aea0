// Package server provides the Echo web server for audio streaming and song
// uploads.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/nzoschke/tracksrv/pkg/analysis"
	"github.com/nzoschke/tracksrv/pkg/config"
	"github.com/nzoschke/tracksrv/pkg/logger"
	"github.com/nzoschke/tracksrv/pkg/media"
	"github.com/nzoschke/tracksrv/pkg/metrics"
	"github.com/nzoschke/tracksrv/pkg/store"
)

// multipartOverhead is allowed on top of the upload limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// JobQueue accepts analysis work. *analysis.Pool implements it.
type JobQueue interface {
	Submit(job analysis.Job) error
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Library *media.Library
	Store   store.Store
	Jobs    JobQueue
	Metrics *metrics.Metrics
}

// Server wires HTTP routes to the media library, streamer and song store.
type Server struct {
	cfg         config.ServerConfig
	maxBytes    int64
	placeholder analysis.Waveform

	echo     *echo.Echo
	library  *media.Library
	streamer *media.Streamer
	songs    store.Store
	jobs     JobQueue
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a server and registers its routes.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s := &Server{
		cfg:      cfg.Server,
		maxBytes: cfg.Media.MaxUploadBytes,
		echo:     echo.New(),
		library:  deps.Library,
		streamer: media.NewStreamer(cfg.Server.ChunkSize, cfg.Server.ChunkTimeout),
		songs:    deps.Store,
		jobs:     deps.Jobs,
		metrics:  deps.Metrics,
		log:      logger.WithComponent("server"),
	}
	if cfg.Analysis.PlaceholderOnFailure {
		s.placeholder = analysis.PlaceholderWaveform(cfg.Analysis.NumBars)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/audio/:owner/:filename", s.serveAudio)
	e.HEAD("/audio/:owner/:filename", s.serveAudio)
	e.GET("/api/songs", s.listSongs)
	e.GET("/api/songs/:id", s.getSong)
	e.POST("/api/songs", s.uploadSong,
		middleware.BodyLimit(strconv.FormatInt(s.maxBytes+multipartOverhead, 10)+"B"))

	return s
}

// ServeHTTP lets the server be used as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens on the configured address until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("Listening")
		errc <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request through zerolog and puts a request scoped
// logger in the request context.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	logged := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:       true,
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogResponseSize: true,
		LogRequestID:    true,
		LogError:        true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Info()
			if v.Error != nil {
				ev = s.log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Int64("bytes", v.ResponseSize).
				Str("request_id", v.RequestID).
				Msg("Request")
			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withLogger := func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			l := s.log.With().Str("request_id", id).Logger()
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithLogger(req.Context(), l)))
			return next(c)
		}
		return logged(withLogger)
	}
}
