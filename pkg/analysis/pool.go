package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nzoschke/tracksrv/pkg/logger"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("analysis queue full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("analysis pool closed")
)

// Job identifies a stored file awaiting analysis.
type Job struct {
	ID   string
	Path string
}

// ResultFunc receives each finished analysis.
type ResultFunc func(ctx context.Context, job Job, res *TrackAnalysis) error

// Observer is notified about pool activity. *metrics.Metrics implements it.
type Observer interface {
	ObserveAnalysis(outcome string, elapsed time.Duration)
	SetQueueDepth(n int)
}

// Outcomes passed to Observer.ObserveAnalysis.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "decode_failed"
	OutcomeCanceled = "canceled"
	OutcomeDropped  = "record_failed"
)

// Pool analyzes files on a fixed number of background workers so uploads
// return before decoding starts.
type Pool struct {
	analyzer *Analyzer
	onResult ResultFunc
	observer Observer

	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines reading from a queue of queueSize jobs.
// observer may be nil.
func NewPool(a *Analyzer, workers, queueSize int, onResult ResultFunc, observer Observer) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		analyzer: a,
		onResult: onResult,
		observer: observer,
		jobs:     make(chan Job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.depth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight analyses are canceled and ctx's error returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	log := logger.WithComponent("analysis").With().Int("worker", id).Logger()

	for job := range p.jobs {
		p.depth()
		jlog := log.With().Str("id", job.ID).Logger()
		ctx := logger.WithLogger(p.ctx, jlog)

		if err := p.ctx.Err(); err != nil {
			p.finish(ctx, jlog, job, p.analyzer.canceled(job.Path, err), OutcomeCanceled, 0)
			continue
		}

		start := time.Now()
		res, err := p.analyzer.AnalyzeFile(ctx, job.Path)
		elapsed := time.Since(start)
		if err != nil {
			jlog.Warn().Err(err).Msg("Analysis canceled")
			p.finish(ctx, jlog, job, p.analyzer.canceled(job.Path, err), OutcomeCanceled, elapsed)
			continue
		}

		outcome := OutcomeOK
		if res.Failed() {
			outcome = OutcomeFailed
		}
		p.finish(ctx, jlog, job, res, outcome, elapsed)
	}
}

// finish hands res to the result callback and reports the outcome. Canceled
// jobs are recorded too, so no song is left waiting on a pool that is gone.
func (p *Pool) finish(ctx context.Context, log zerolog.Logger, job Job, res *TrackAnalysis, outcome string, elapsed time.Duration) {
	if p.onResult != nil {
		if err := p.onResult(context.WithoutCancel(ctx), job, res); err != nil {
			log.Error().Err(err).Msg("Could not record analysis")
			outcome = OutcomeDropped
		}
	}
	p.observe(outcome, elapsed)
	log.Info().Str("outcome", outcome).Dur("elapsed", elapsed).Msg("Analysis finished")
}

func (p *Pool) observe(outcome string, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveAnalysis(outcome, elapsed)
	}
}

func (p *Pool) depth() {
	if p.observer != nil {
		p.observer.SetQueueDepth(len(p.jobs))
	}
}
