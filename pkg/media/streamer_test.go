package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAsset stores size deterministic bytes and returns the asset for them.
func writeAsset(t *testing.T, size int) (Asset, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 251)
	}
	path := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return Asset{Path: path, Size: uint64(size), ContentType: LegacyContentType}, data
}

func TestStreamFull(t *testing.T) {
	asset, data := writeAsset(t, 200_000)
	s := NewStreamer(DefaultChunkSize, 0)

	rec := httptest.NewRecorder()
	n, err := s.Stream(context.Background(), rec, asset, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "200000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.True(t, bytes.Equal(data, rec.Body.Bytes()), "body differs from file")
}

func TestStreamRange(t *testing.T) {
	asset, data := writeAsset(t, 1000)
	s := NewStreamer(DefaultChunkSize, 0)

	rec := httptest.NewRecorder()
	n, err := s.Stream(context.Background(), rec, asset, &ByteRange{Start: 500, End: 599})
	require.NoError(t, err)

	assert.Equal(t, int64(100), n)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 500-599/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, data[500:600], rec.Body.Bytes())
}

func TestStreamOpenEndedRange(t *testing.T) {
	asset, data := writeAsset(t, 1000)
	s := NewStreamer(DefaultChunkSize, 0)

	rng, err := ParseRange("bytes=900-", asset.Size)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = s.Stream(context.Background(), rec, asset, rng)
	require.NoError(t, err)

	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, data[900:], rec.Body.Bytes())
}

func TestStreamRejectsInvalidRange(t *testing.T) {
	asset, _ := writeAsset(t, 1000)
	s := NewStreamer(DefaultChunkSize, 0)

	for _, rng := range []*ByteRange{
		{Start: 600, End: 500},
		{Start: 0, End: 1000},
		{Start: 1000, End: 1000},
	} {
		t.Run(fmt.Sprintf("%d-%d", rng.Start, rng.End), func(t *testing.T) {
			rec := httptest.NewRecorder()
			n, err := s.Stream(context.Background(), rec, asset, rng)
			require.ErrorIs(t, err, ErrBadRange)
			assert.Zero(t, n)
			assert.Zero(t, rec.Body.Len())
			assert.Empty(t, rec.Header().Get("Content-Length"), "nothing is committed on a bad range")
		})
	}
}

func TestStreamMissingFile(t *testing.T) {
	asset, _ := writeAsset(t, 10)
	require.NoError(t, os.Remove(asset.Path))

	rec := httptest.NewRecorder()
	_, err := NewStreamer(DefaultChunkSize, 0).Stream(context.Background(), rec, asset, nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, rec.Body.Len())
}

func TestStreamRoundTrip(t *testing.T) {
	asset, data := writeAsset(t, 10_007)
	s := NewStreamer(1024, 0)

	const k = 137
	var joined []byte
	for start := 0; start < len(data); start += k {
		end := min(start+k-1, len(data)-1)
		rng, err := ParseRange("bytes="+strconv.Itoa(start)+"-"+strconv.Itoa(end), asset.Size)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		_, err = s.Stream(context.Background(), rec, asset, rng)
		require.NoError(t, err)
		joined = append(joined, rec.Body.Bytes()...)
	}

	assert.True(t, bytes.Equal(data, joined), "joined ranges differ from file")
}

// chunkRecorder remembers the size of every Write call.
type chunkRecorder struct {
	*httptest.ResponseRecorder
	writes []int
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.writes = append(c.writes, len(p))
	return c.ResponseRecorder.Write(p)
}

func TestStreamBoundedChunks(t *testing.T) {
	asset, data := writeAsset(t, 1000)
	s := NewStreamer(64, 0)

	rec := &chunkRecorder{ResponseRecorder: httptest.NewRecorder()}
	_, err := s.Stream(context.Background(), rec, asset, &ByteRange{Start: 10, End: 909})
	require.NoError(t, err)

	assert.Equal(t, data[10:910], rec.Body.Bytes())
	assert.Len(t, rec.writes, 15) // ceil(900/64)
	for _, n := range rec.writes {
		assert.LessOrEqual(t, n, 64)
	}
}

func TestStreamCanceled(t *testing.T) {
	asset, _ := writeAsset(t, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	n, err := NewStreamer(64, 0).Stream(ctx, rec, asset, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Zero(t, rec.Body.Len())
}

// brokenWriter fails every write after the first, like a client hanging up.
type brokenWriter struct {
	*httptest.ResponseRecorder
	calls int
}

var errClientGone = errors.New("client gone")

func (b *brokenWriter) Write(p []byte) (int, error) {
	b.calls++
	if b.calls > 1 {
		return 0, errClientGone
	}
	return b.ResponseRecorder.Write(p)
}

func TestStreamClientDisconnect(t *testing.T) {
	asset, _ := writeAsset(t, 1000)

	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
	n, err := NewStreamer(100, 0).Stream(context.Background(), w, asset, nil)
	require.ErrorIs(t, err, errClientGone)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, 2, w.calls, "streaming stops at the first failed write")
}

func TestStreamShrunkFile(t *testing.T) {
	asset, _ := writeAsset(t, 1000)
	require.NoError(t, os.Truncate(asset.Path, 400))

	rec := httptest.NewRecorder()
	n, err := NewStreamer(128, 0).Stream(context.Background(), rec, asset, nil)
	require.Error(t, err)
	assert.Equal(t, int64(400), n)
}

func TestHead(t *testing.T) {
	asset, _ := writeAsset(t, 1000)

	rec := httptest.NewRecorder()
	err := NewStreamer(DefaultChunkSize, 0).Head(context.Background(), rec, asset, &ByteRange{Start: 0, End: 9})
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 0-9/1000", rec.Header().Get("Content-Range"))
	assert.Zero(t, rec.Body.Len())
}

func TestStreamConcurrentRanges(t *testing.T) {
	asset, data := writeAsset(t, 64*1024)
	s := NewStreamer(512, 0)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := ByteRange{Start: uint64(i * 4000), End: uint64(i*4000 + 2999)}
			rec := httptest.NewRecorder()
			_, err := s.Stream(context.Background(), rec, asset, &rng)
			assert.NoError(t, err)
			assert.Equal(t, data[rng.Start:rng.End+1], rec.Body.Bytes())
		}()
	}
	wg.Wait()
}

func TestStreamEmptyFile(t *testing.T) {
	asset, _ := writeAsset(t, 0)

	rec := httptest.NewRecorder()
	n, err := NewStreamer(DefaultChunkSize, 0).Stream(context.Background(), rec, asset, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
}
