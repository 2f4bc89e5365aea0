package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegAvailable reports whether the ffmpeg and ffprobe binaries are on PATH.
func FFmpegAvailable() bool {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return false
	}
	_, err := exec.LookPath("ffprobe")
	return err == nil
}

// FFmpeg decodes anything the external ffmpeg binary understands by piping
// signed 16-bit little-endian PCM from its stdout.
type FFmpeg struct{}

type probeInfo struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

type streamInfo struct {
	sampleRate int
	channels   int
	duration   time.Duration
}

func (FFmpeg) probe(path string) (streamInfo, error) {
	f, err := openAudio(path)
	if err != nil {
		return streamInfo{}, err
	}
	f.Close()

	data, err := ffmpeg.Probe(path)
	if err != nil {
		return streamInfo{}, unsupported("ffprobe", err)
	}
	var probe probeInfo
	if err := json.Unmarshal([]byte(data), &probe); err != nil {
		return streamInfo{}, unsupported("ffprobe", err)
	}

	var info streamInfo
	if secs, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && secs > 0 {
		info.duration = time.Duration(secs * float64(time.Second))
	}
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.sampleRate, _ = strconv.Atoi(s.SampleRate)
		info.channels = s.Channels
		break
	}
	if info.sampleRate <= 0 || info.channels <= 0 {
		return streamInfo{}, unsupported("ffprobe", errors.New("no audio stream"))
	}
	return info, nil
}

func (d FFmpeg) Probe(_ context.Context, path string) (time.Duration, error) {
	info, err := d.probe(path)
	if err != nil {
		return 0, err
	}
	if info.duration <= 0 {
		return 0, ErrEmpty
	}
	return info.duration, nil
}

func (d FFmpeg) Decode(ctx context.Context, path string) (*Decoded, error) {
	info, err := d.probe(path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format": "s16le",
			"acodec": "pcm_s16le",
			"ac":     info.channels,
			"ar":     info.sampleRate,
		}).
		WithOutput(pw, &stderr).
		Compile()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", ErrUnavailable, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.CloseWithError(err)
		done <- err
	}()

	stop := context.AfterFunc(ctx, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})
	defer stop()

	frameBytes := 2 * info.channels
	buf := make([]byte, frameBytes*4096)
	interleaved := make([]float32, 0, info.channels*4096)
	var samples []float32
	var readErr error
	for {
		n, err := io.ReadFull(pr, buf)
		n -= n % frameBytes
		interleaved = interleaved[:0]
		for off := 0; off < n; off += 2 {
			interleaved = append(interleaved, float32(int16(binary.LittleEndian.Uint16(buf[off:])))/32768)
		}
		samples = appendMono(samples, interleaved, info.channels)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}
	pr.Close()
	waitErr := <-done

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readErr == nil {
		readErr = waitErr
	}
	if readErr != nil {
		msg := strings.TrimSpace(stderr.String())
		return nil, unsupported("ffmpeg", fmt.Errorf("%w: %s", readErr, msg))
	}
	return finish(samples, info.sampleRate, info.channels)
}
