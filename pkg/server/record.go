package server

import (
	"context"
	"errors"
	"time"

	"github.com/nzoschke/tracksrv/pkg/analysis"
	"github.com/nzoschke/tracksrv/pkg/logger"
	"github.com/nzoschke/tracksrv/pkg/media"
	"github.com/nzoschke/tracksrv/pkg/store"
)

// resubmitInterval is how long ResumePending waits when the queue is full.
const resubmitInterval = 100 * time.Millisecond

// RecordAnalysis returns the pool callback that writes a finished analysis
// onto its song record.
func RecordAnalysis(songs store.Store) analysis.ResultFunc {
	return func(ctx context.Context, job analysis.Job, res *analysis.TrackAnalysis) error {
		err := songs.SetAnalysis(job.ID, store.Analysis{
			Waveform: res.Waveform,
			Duration: res.Duration,
			Failed:   res.Failed(),
		})
		if errors.Is(err, store.ErrAlreadyAnalyzed) {
			log := logger.FromContext(ctx)
			log.Debug().Str("id", job.ID).Msg("Analysis already recorded")
			return nil
		}
		return err
	}
}

// ResumePending queues analysis for every song still pending, such as songs
// uploaded just before the process was killed. It waits for room when the
// queue is full and returns the number of songs queued.
func ResumePending(ctx context.Context, songs store.Store, lib *media.Library, jobs JobQueue, placeholder analysis.Waveform) (int, error) {
	log := logger.WithComponent("resume")

	pending, err := songs.ListPending()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, song := range pending {
		path, err := lib.Path(song.OwnerID, song.Filename)
		if err != nil {
			log.Warn().Err(err).Str("id", song.ID).Msg("Song has no valid file, marking analysis failed")
			if err := songs.SetAnalysis(song.ID, store.Analysis{Waveform: placeholder, Failed: true}); err != nil && !errors.Is(err, store.ErrAlreadyAnalyzed) {
				return n, err
			}
			continue
		}

		job := analysis.Job{ID: song.ID, Path: path}
		for {
			err = jobs.Submit(job)
			if !errors.Is(err, analysis.ErrQueueFull) {
				break
			}
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(resubmitInterval):
			}
		}
		if err != nil {
			return n, err
		}
		n++
	}

	if n > 0 {
		log.Info().Int("songs", n).Msg("Resumed pending analysis")
	}
	return n, nil
}
