package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultChunkSize is the copy buffer size used when none is configured.
	DefaultChunkSize = 64 * 1024

	// CacheControl is sent with every audio response.
	CacheControl = "public, max-age=3600"
)

// Streamer writes assets to HTTP responses using a fixed size copy buffer,
// so memory per request stays at one chunk whatever the file or range size.
type Streamer struct {
	chunkSize    int
	chunkTimeout time.Duration
	buffers      sync.Pool
}

// NewStreamer creates a streamer copying chunkSize bytes at a time. A
// positive chunkTimeout bounds each chunk write on writers that support
// deadlines.
func NewStreamer(chunkSize int, chunkTimeout time.Duration) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &Streamer{
		chunkSize:    chunkSize,
		chunkTimeout: chunkTimeout,
	}
	s.buffers.New = func() any {
		buf := make([]byte, s.chunkSize)
		return &buf
	}
	return s
}

// Stream writes the asset to w: the whole file with 200 when rng is nil,
// otherwise the span with 206. It returns the number of body bytes written.
//
// ErrNotFound and ErrBadRange are returned before anything is written, so
// the caller may still choose the status code. Any later error means the
// response is already committed.
func (s *Streamer) Stream(ctx context.Context, w http.ResponseWriter, asset Asset, rng *ByteRange) (int64, error) {
	return s.serve(ctx, w, asset, rng, true)
}

// Head writes the headers Stream would write, without a body.
func (s *Streamer) Head(ctx context.Context, w http.ResponseWriter, asset Asset, rng *ByteRange) error {
	_, err := s.serve(ctx, w, asset, rng, false)
	return err
}

func (s *Streamer) serve(ctx context.Context, w http.ResponseWriter, asset Asset, rng *ByteRange, body bool) (int64, error) {
	f, err := os.Open(asset.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("open %s: %w", asset.Path, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", asset.Path, err)
	}
	defer f.Close()

	status := http.StatusOK
	offset, length := uint64(0), asset.Size
	if rng != nil {
		if !rng.Valid(asset.Size) {
			return 0, fmt.Errorf("%w: %d-%d of %d", ErrBadRange, rng.Start, rng.End, asset.Size)
		}
		status = http.StatusPartialContent
		offset, length = rng.Start, rng.Len()
	}

	h := w.Header()
	if asset.ContentType != "" {
		h.Set("Content-Type", asset.ContentType)
	}
	if rng != nil {
		h.Set("Content-Range", rng.ContentRange(asset.Size))
	}
	h.Set("Content-Length", strconv.FormatUint(length, 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", CacheControl)
	w.WriteHeader(status)

	if !body || length == 0 {
		return 0, nil
	}

	n, err := s.copy(ctx, w, io.NewSectionReader(f, int64(offset), int64(length)))
	if err != nil {
		return n, err
	}
	if uint64(n) < length {
		// file shrank after it was resolved
		return n, fmt.Errorf("short read at %d of %d: %w", n, length, io.ErrUnexpectedEOF)
	}
	return n, nil
}

// copy moves src to w one chunk at a time, stopping as soon as ctx is done.
func (s *Streamer) copy(ctx context.Context, w http.ResponseWriter, src io.Reader) (int64, error) {
	bufp := s.buffers.Get().(*[]byte)
	defer s.buffers.Put(bufp)
	buf := *bufp

	rc := http.NewResponseController(w)
	if s.chunkTimeout > 0 {
		defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			if s.chunkTimeout > 0 {
				// http.ErrNotSupported on writers without deadlines
				_ = rc.SetWriteDeadline(time.Now().Add(s.chunkTimeout))
			}
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write chunk: %w", werr)
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read chunk: %w", rerr)
		}
	}
}
