package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/shared"
)

// Reconciler repairs what a crash between a status write and its enqueue leaves behind.
type Reconciler struct {
	tracks     *repositories.TrackRepository
	dispatcher *queue.Dispatcher
	progress   progress.Store
	interval   time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// NewReconciler sweeps every interval. Tracks must have been pending for a full interval before
// they are re-enqueued.
func NewReconciler(tracks *repositories.TrackRepository, dispatcher *queue.Dispatcher, store progress.Store, interval time.Duration, logger *log.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		tracks:     tracks,
		dispatcher: dispatcher,
		progress:   store,
		interval:   interval,
		logger:     shared.WithLogger(logger, "component", "reconciler"),
		now:        time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("sweep failed", "err", err)
			}
		}
	}
}

// SweepResult reports one sweep.
type SweepResult struct {
	Requeued int
	Purged   int
}

// Sweep re-enqueues orphaned pending tracks and purges expired progress records.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	orphans, err := r.tracks.PendingWithoutJob(ctx, r.now().Add(-r.interval), BulkChunkSize)
	if err != nil {
		return res, err
	}
	for _, t := range orphans {
		_, err := r.dispatcher.Enqueue(ctx, shared.QueueProcessing, models.JobProcessTrack, TrackPayload{TrackID: t.ID}, queue.WithTrack(t.ID))
		if err != nil {
			r.logger.Warn("failed to re-enqueue track", "track_id", t.ID, "err", err)
			continue
		}
		res.Requeued++
	}

	if res.Purged, err = r.progress.Purge(ctx); err != nil {
		return res, err
	}

	if res.Requeued > 0 || res.Purged > 0 {
		r.logger.Info("sweep finished", "requeued", res.Requeued, "purged", res.Purged)
	}
	return res, nil
}
