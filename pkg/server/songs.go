package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nzoschke/tracksrv/pkg/analysis"
	"github.com/nzoschke/tracksrv/pkg/logger"
	"github.com/nzoschke/tracksrv/pkg/media"
	"github.com/nzoschke/tracksrv/pkg/store"
)

// uploadSong stores a multipart upload under the owner's directory, creates
// its song record and queues analysis. Analysis outcome never fails the
// upload.
func (s *Server) uploadSong(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			s.metrics.Uploads.WithLabelValues("too_large").Inc()
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
		}
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "missing file").SetInternal(err)
	}
	owner := strings.TrimSpace(c.FormValue("owner"))
	title := strings.TrimSpace(c.FormValue("title"))

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !s.library.Allowed(ext) {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("file type %q not allowed", ext))
	}
	if fh.Size > s.maxBytes {
		s.metrics.Uploads.WithLabelValues("too_large").Inc()
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}

	id := uuid.NewString()
	filename := id + ext
	dst, err := s.library.Create(owner, filename)
	if errors.Is(err, media.ErrInvalidPath) {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid owner").SetInternal(err)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store file").SetInternal(err)
	}

	size, err := copyUpload(dst, fh)
	if err != nil {
		_ = os.Remove(dst.Name())
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store file").SetInternal(err)
	}

	song := &store.Song{
		ID:          id,
		OwnerID:     owner,
		Title:       title,
		Filename:    filename,
		SizeBytes:   size,
		ContentType: s.library.ContentType(filename),
	}
	if err := s.songs.Create(song); err != nil {
		_ = os.Remove(dst.Name())
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create song").SetInternal(err)
	}
	s.metrics.Uploads.WithLabelValues("created").Inc()

	if err := s.jobs.Submit(analysis.Job{ID: id, Path: dst.Name()}); err != nil {
		// The song stays playable; it just never gets a waveform.
		log.Warn().Err(err).Str("id", id).Msg("Could not queue analysis")
		if err := s.songs.SetAnalysis(id, store.Analysis{Waveform: s.placeholder, Failed: true}); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Could not mark analysis failed")
		}
		if updated, err := s.songs.Get(id); err == nil {
			song = updated
		}
	}

	log.Info().Str("id", id).Str("owner", owner).Int64("bytes", size).Msg("Song uploaded")
	c.Response().Header().Set(echo.HeaderLocation, "/api/songs/"+id)
	return c.JSON(http.StatusCreated, song)
}

// copyUpload writes the uploaded part to dst and closes dst.
func copyUpload(dst *os.File, fh *multipart.FileHeader) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		dst.Close()
		return 0, err
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (s *Server) getSong(c echo.Context) error {
	song, err := s.songs.Get(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "song not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, song)
}

func (s *Server) listSongs(c echo.Context) error {
	owner := c.QueryParam("owner")
	if owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}
	songs, err := s.songs.ListByOwner(owner)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, songs)
}
