package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/tracksrv/pkg/decode"
)

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObserveAnalysis(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) SetQueueDepth(int) {}

func (o *countingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

// gatedSource blocks every decode until release is closed or ctx ends.
type gatedSource struct {
	started chan string
	release chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedSource) Decode(ctx context.Context, path string) (*decode.Decoded, error) {
	g.started <- path
	select {
	case <-g.release:
		return &decode.Decoded{Samples: []float32{0.5, -0.5, 0.5, -0.5}, SampleRate: 4, Channels: 1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedSource) Probe(context.Context, string) (time.Duration, error) {
	return 0, errors.New("not supported")
}

func TestPoolProcessesJobs(t *testing.T) {
	src := &fakeSource{decoded: &decode.Decoded{Samples: make([]float32, 100), SampleRate: 50, Channels: 2}}
	obs := &countingObserver{}

	var mu sync.Mutex
	got := map[string]*TrackAnalysis{}
	record := func(_ context.Context, job Job, res *TrackAnalysis) error {
		mu.Lock()
		defer mu.Unlock()
		got[job.ID] = res
		return nil
	}

	p := NewPool(New(src, Options{}), 3, 10, record, obs)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, p.Submit(Job{ID: id, Path: id + ".wav"}))
	}
	require.NoError(t, p.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	for _, res := range got {
		assert.Len(t, res.Waveform, DefaultNumBars)
		require.NotNil(t, res.Duration)
		assert.Equal(t, uint32(2), *res.Duration)
	}
	assert.Equal(t, 4, obs.count(OutcomeOK))
}

func TestPoolRecordsFailures(t *testing.T) {
	src := &fakeSource{err: decode.ErrUnsupported}
	obs := &countingObserver{}

	done := make(chan *TrackAnalysis, 1)
	p := NewPool(New(src, Options{}), 1, 1, func(_ context.Context, _ Job, res *TrackAnalysis) error {
		done <- res
		return errors.New("store down")
	}, obs)
	require.NoError(t, p.Submit(Job{ID: "x", Path: "x.mp3"}))

	res := <-done
	assert.True(t, res.Failed())
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, obs.count(OutcomeDropped))
}

func TestPoolQueueFull(t *testing.T) {
	src := newGatedSource()
	p := NewPool(New(src, Options{}), 1, 1, nil, nil)

	require.NoError(t, p.Submit(Job{ID: "1", Path: "1.wav"}))
	assert.Equal(t, "1.wav", <-src.started)

	require.NoError(t, p.Submit(Job{ID: "2", Path: "2.wav"}))
	assert.ErrorIs(t, p.Submit(Job{ID: "3", Path: "3.wav"}), ErrQueueFull)

	close(src.release)
	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Submit(Job{ID: "4", Path: "4.wav"}), ErrPoolClosed)
}

func TestPoolCloseDeadline(t *testing.T) {
	src := newGatedSource()
	obs := &countingObserver{}
	p := NewPool(New(src, Options{}), 1, 4, nil, obs)

	require.NoError(t, p.Submit(Job{ID: "1", Path: "1.wav"}))
	require.NoError(t, p.Submit(Job{ID: "2", Path: "2.wav"}))
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, 2, obs.count(OutcomeCanceled))

	// Closing twice is harmless.
	assert.NoError(t, p.Close(context.Background()))
}

func TestPoolCloseRecordsCanceledJobs(t *testing.T) {
	src := newGatedSource()
	obs := &countingObserver{}

	var mu sync.Mutex
	got := map[string]*TrackAnalysis{}
	record := func(_ context.Context, job Job, res *TrackAnalysis) error {
		mu.Lock()
		defer mu.Unlock()
		got[job.ID] = res
		return nil
	}

	p := NewPool(New(src, Options{PlaceholderOnFailure: true, NumBars: 8}), 1, 8, record, obs)
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		require.NoError(t, p.Submit(Job{ID: id, Path: id + ".wav"}))
	}
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, len(ids))
	for _, id := range ids {
		res := got[id]
		require.NotNil(t, res, id)
		assert.True(t, res.Failed(), id)
		assert.Contains(t, res.Error, "canceled", id)
		assert.Equal(t, PlaceholderWaveform(8), res.Waveform, id)
		assert.Equal(t, id+".wav", res.File, id)
	}
	assert.Equal(t, len(ids), obs.count(OutcomeCanceled))
}
