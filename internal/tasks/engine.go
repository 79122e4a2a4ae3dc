package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/desertthunder/trackline/internal/lifecycle"
	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/shared"
)

// EngineOptions configures an [Engine].
type EngineOptions struct {
	ProgressTTL time.Duration
	Logger      *log.Logger
}

// Engine is the request-side entry point for track operations.
type Engine struct {
	tracks     *repositories.TrackRepository
	genres     *repositories.GenreRepository
	dispatcher *queue.Dispatcher
	progress   progress.Store
	files      *media.Store
	ttl        time.Duration
	logger     *log.Logger
}

// NewEngine wires the engine to its stores and the dispatcher.
func NewEngine(
	tracks *repositories.TrackRepository,
	genres *repositories.GenreRepository,
	dispatcher *queue.Dispatcher,
	store progress.Store,
	files *media.Store,
	opts EngineOptions,
) *Engine {
	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = progress.DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		tracks:     tracks,
		genres:     genres,
		dispatcher: dispatcher,
		progress:   store,
		files:      files,
		ttl:        opts.ProgressTTL,
		logger:     shared.WithLogger(logger, "component", "engine"),
	}
}

// Create registers a pending track, creating its genre when needed.
// With AutoProcess the track is started right away.
func (e *Engine) Create(ctx context.Context, req models.CreateTrackRequest) (*models.Track, error) {
	track := req.Track()
	if name := strings.TrimSpace(req.Genre); name != "" {
		genre, err := e.genres.FirstOrCreate(ctx, name)
		if err != nil {
			return nil, err
		}
		track.GenreID = &genre.ID
	}

	if err := e.tracks.Create(ctx, track); err != nil {
		return nil, err
	}
	e.logger.Info("track created", "track_id", track.ID, "source", track.Source)

	if !req.AutoProcess {
		return track, nil
	}
	if _, err := e.Start(ctx, track.ID, false); err != nil {
		return track, err
	}
	return e.tracks.Get(ctx, track.ID)
}

// Get returns one track.
func (e *Engine) Get(ctx context.Context, id int64) (*models.Track, error) {
	return e.tracks.Get(ctx, id)
}

// List returns tracks matching q.
func (e *Engine) List(ctx context.Context, q models.TrackQuery) ([]*models.Track, error) {
	return e.tracks.List(ctx, q)
}

// Genres lists every genre.
func (e *Engine) Genres(ctx context.Context) ([]*models.Genre, error) {
	return e.genres.List(ctx)
}

// CreateGenre adds a genre. Duplicate names fail with [shared.ErrConflict].
func (e *Engine) CreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	genre := &models.Genre{Name: name}
	if err := e.genres.Create(ctx, genre); err != nil {
		return nil, err
	}
	return genre, nil
}

// Start queues a track for processing. force also restarts a processing track and discards its media.
func (e *Engine) Start(ctx context.Context, id int64, force bool) (*models.ActionResult, error) {
	return e.transition(ctx, id, models.ActionStart, force)
}

// Stop stops a pending or processing track. A running job notices at its next step.
func (e *Engine) Stop(ctx context.Context, id int64) (*models.ActionResult, error) {
	return e.transition(ctx, id, models.ActionStop, false)
}

// Retry queues a failed track for processing again.
func (e *Engine) Retry(ctx context.Context, id int64) (*models.ActionResult, error) {
	return e.transition(ctx, id, models.ActionRetry, false)
}

func (e *Engine) transition(ctx context.Context, id int64, action models.Action, force bool) (*models.ActionResult, error) {
	t, err := e.tracks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, t, action, force, false, "")
}

// apply runs action on t, persists it and enqueues the processing job when the action asks for one.
func (e *Engine) apply(ctx context.Context, t *models.Track, action models.Action, force, bulk bool, batchID string) (*models.ActionResult, error) {
	var (
		prev  models.Track
		stale []string
	)
	t, err := mutate(ctx, e.tracks, t, func(t *models.Track) error {
		prev = *t
		var err error
		stale, err = lifecycle.Apply(t, action, force, bulk)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &models.ActionResult{Snapshot: t.Snapshot()}
	if lifecycle.Enqueues(action) {
		opts := []queue.EnqueueOption{queue.WithTrack(t.ID), queue.WithBatch(batchID)}
		job, err := e.dispatcher.Enqueue(ctx, shared.QueueProcessing, models.JobProcessTrack, TrackPayload{TrackID: t.ID}, opts...)
		if err != nil {
			e.restore(ctx, t, prev)
			return nil, err
		}
		res.JobID = job.ID
	}

	if err := e.files.RemoveAll(stale); err != nil {
		e.logger.Warn("failed to remove stale media", "track_id", t.ID, "err", err)
	}
	e.logger.Debug("track transitioned", "track_id", t.ID, "action", action, "status", t.Status)
	return res, nil
}

// restore writes prev back over t after a failed enqueue. If the track changed again in the
// meantime that change wins.
func (e *Engine) restore(ctx context.Context, t *models.Track, prev models.Track) {
	prev.Version = t.Version
	if err := e.tracks.Update(context.WithoutCancel(ctx), &prev); err != nil {
		e.logger.Error("failed to restore track after dispatch failure", "track_id", t.ID, "err", err)
		return
	}
	e.logger.Warn("dispatch failed, track restored", "track_id", t.ID, "status", prev.Status)
}

// Delete removes a track and its media files. Media removal is best effort.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	t, err := e.tracks.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.remove(ctx, t)
}

func (e *Engine) remove(ctx context.Context, t *models.Track) error {
	if err := e.tracks.Delete(ctx, t.ID); err != nil {
		return err
	}
	if err := e.files.RemoveAll(t.MediaPaths()); err != nil {
		e.logger.Warn("failed to remove media of deleted track", "track_id", t.ID, "err", err)
	}
	e.logger.Info("track deleted", "track_id", t.ID)
	return nil
}

// Status returns the status snapshot of one track.
func (e *Engine) Status(ctx context.Context, id int64) (models.Snapshot, error) {
	t, err := e.tracks.Get(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// StatusBulk returns snapshots for ids in request order, duplicates removed.
// When any id does not exist the error wraps [shared.ErrTrackNotFound] and lists them.
func (e *Engine) StatusBulk(ctx context.Context, ids []int64) ([]models.Snapshot, error) {
	if len(ids) == 0 {
		v := &models.ValidationError{}
		v.Add("ids", "at least one id is required")
		return nil, v
	}

	tracks, err := e.tracks.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Track, len(tracks))
	found := mapset.NewThreadUnsafeSet[int64]()
	for _, t := range tracks {
		byID[t.ID] = t
		found.Add(t.ID)
	}

	if missing := mapset.NewThreadUnsafeSet(ids...).Difference(found); missing.Cardinality() > 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, joinIDs(missing.ToSlice()))
	}

	seen := mapset.NewThreadUnsafeSet[int64]()
	snaps := make([]models.Snapshot, 0, len(tracks))
	for _, id := range ids {
		if seen.Add(id) {
			snaps = append(snaps, byID[id].Snapshot())
		}
	}
	return snaps, nil
}

// ImportProgress returns the progress record of an import session.
func (e *Engine) ImportProgress(ctx context.Context, sessionID string) (models.ProgressRecord, error) {
	return e.progress.Get(ctx, sessionID)
}

// HandleCancelled stops the track of a processing job cancelled before it ran.
// Registered with [queue.Dispatcher.OnCancel].
func (e *Engine) HandleCancelled(ctx context.Context, job *models.Job) {
	if job.Type != models.JobProcessTrack || job.TrackID == nil {
		return
	}

	_, err := settle(ctx, e.tracks, *job.TrackID, func(t *models.Track) error {
		if t.Status != models.StatusPending {
			return errNothingToDo
		}
		return lifecycle.Stop(t)
	})
	switch {
	case err == nil:
		e.logger.Info("track stopped with its batch", "track_id", *job.TrackID, "job_id", job.ID)
	case errors.Is(err, errNothingToDo), errors.Is(err, shared.ErrTrackNotFound):
	default:
		e.logger.Warn("failed to stop track of cancelled job", "track_id", *job.TrackID, "err", err)
	}
}

// HandleRequeued puts the failed or stopped track of a requeued processing job back to pending so
// the job runs it again. Registered with [queue.Dispatcher.OnRequeue].
func (e *Engine) HandleRequeued(ctx context.Context, job *models.Job) {
	if job.Type != models.JobProcessTrack || job.TrackID == nil {
		return
	}

	_, err := settle(ctx, e.tracks, *job.TrackID, func(t *models.Track) error {
		return lifecycle.Retry(t, true)
	})

	var te *lifecycle.TransitionError
	switch {
	case err == nil:
		e.logger.Info("track requeued", "track_id", *job.TrackID, "job_id", job.ID)
	case errors.As(err, &te), errors.Is(err, shared.ErrTrackNotFound):
	default:
		e.logger.Warn("failed to requeue track", "track_id", *job.TrackID, "err", err)
	}
}

var errNothingToDo = errors.New("nothing to do")

func joinIDs(ids []int64) string {
	slices.Sort(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
