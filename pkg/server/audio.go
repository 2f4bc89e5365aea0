package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nzoschke/tracksrv/pkg/logger"
	"github.com/nzoschke/tracksrv/pkg/media"
)

// serveAudio streams /audio/:owner/:filename with byte range support.
func (s *Server) serveAudio(c echo.Context) error {
	start := time.Now()
	req := c.Request()
	ctx := req.Context()

	owner, err := url.PathUnescape(c.Param("owner"))
	if err != nil {
		return s.audioError(c, media.ErrInvalidPath, 0, start)
	}
	filename, err := url.PathUnescape(c.Param("filename"))
	if err != nil {
		return s.audioError(c, media.ErrInvalidPath, 0, start)
	}

	asset, err := s.library.Resolve(owner, filename)
	if err != nil {
		return s.audioError(c, err, 0, start)
	}

	rng, err := media.ParseRange(req.Header.Get("Range"), asset.Size)
	if err != nil {
		return s.audioError(c, err, asset.Size, start)
	}

	var n int64
	if req.Method == http.MethodHead {
		err = s.streamer.Head(ctx, c.Response(), asset, rng)
	} else {
		n, err = s.streamer.Stream(ctx, c.Response(), asset, rng)
	}

	if err != nil && !c.Response().Committed {
		return s.audioError(c, err, asset.Size, start)
	}

	status := c.Response().Status
	s.metrics.ObserveStream(strconv.Itoa(status), n, time.Since(start))
	if err != nil {
		// Headers are out, so the status can no longer change.
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Int64("bytes", n).Str("file", filename).Msg("Stream ended early")
	}
	return nil
}

// audioError maps streaming errors to HTTP errors. size is used for the
// Content-Range of a strict 416 response.
func (s *Server) audioError(c echo.Context, err error, size uint64, start time.Time) error {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, media.ErrNotFound):
		he = echo.NewHTTPError(http.StatusNotFound, "file not found")
	case errors.Is(err, media.ErrBadRange):
		if s.cfg.StrictRangeStatus {
			c.Response().Header().Set("Content-Range", "bytes */"+strconv.FormatUint(size, 10))
			he = echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
		} else {
			he = echo.NewHTTPError(http.StatusBadRequest, "Requested range not satisfiable")
		}
	case errors.Is(err, media.ErrInvalidPath):
		he = echo.NewHTTPError(http.StatusForbidden, "invalid path")
	default:
		he = echo.NewHTTPError(http.StatusInternalServerError, "could not read file")
	}
	he.Internal = err
	s.metrics.ObserveStream(strconv.Itoa(he.Code), 0, time.Since(start))
	return he
}
