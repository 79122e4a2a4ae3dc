package tasks

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/desertthunder/trackline/internal/lifecycle"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/shared"
)

// Reasons reported for tracks a bulk operation did not touch, besides the lifecycle reasons.
const (
	ReasonNotFound        = "not found"
	ReasonFilteredOut     = "does not match filter"
	ReasonNotCompleted    = "not completed"
	ReasonNoVideo         = "no rendered video"
	ReasonAlreadyUploaded = "already uploaded"
)

// Bulk applies action to every track selected by filter.
//
// Without track ids and statuses the action's default statuses apply. Every requested id ends up
// either processed or skipped with a reason. Start and retry enqueue one processing job per track,
// all in one batch. Tracks are handled in chunks that are not transactional: a failure part way
// leaves earlier chunks applied.
func (e *Engine) Bulk(ctx context.Context, action models.Action, filter models.BulkFilter) (*models.BulkResult, error) {
	if action == models.ActionUpload {
		return e.BulkUpload(ctx, filter)
	}
	if err := validateBulk(action, filter); err != nil {
		return nil, err
	}

	res := newBulkResult(action)
	var batch *models.Batch

	err := e.walk(ctx, filter, lifecycle.DefaultStatuses(action), res, func(t *models.Track) error {
		if action == models.ActionDelete {
			if err := e.remove(ctx, t); err != nil {
				return err
			}
			res.Add(models.BulkItem{ID: t.ID})
			return nil
		}

		var batchID string
		if lifecycle.Enqueues(action) && lifecycle.Can(action, t.Status) {
			if batch == nil {
				var err error
				if batch, err = e.dispatcher.CreateBatch(ctx, fmt.Sprintf("bulk %s", action), shared.QueueProcessing); err != nil {
					return err
				}
				res.BatchID = batch.ID
			}
			batchID = batch.ID
		}

		out, err := e.apply(ctx, t, action, false, true, batchID)
		if err != nil {
			return err
		}
		res.Add(models.BulkItem{ID: t.ID, Status: out.Status, JobID: out.JobID})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("bulk operation finished", "action", action, "processed", res.ProcessedCount,
		"skipped", len(res.Skipped), "batch_id", res.BatchID)
	return res, nil
}

// BulkUpload enqueues an upload job for every selected track that has a rendered video and
// was not uploaded yet. Without ids and statuses completed tracks are selected.
func (e *Engine) BulkUpload(ctx context.Context, filter models.BulkFilter) (*models.BulkResult, error) {
	if err := validateBulk(models.ActionUpload, filter); err != nil {
		return nil, err
	}

	res := newBulkResult(models.ActionUpload)
	var batch *models.Batch

	defaults := []models.Status{models.StatusCompleted}
	err := e.walk(ctx, filter, defaults, res, func(t *models.Track) error {
		if err := uploadable(t); err != nil {
			return err
		}
		if batch == nil {
			var err error
			if batch, err = e.dispatcher.CreateBatch(ctx, "bulk upload", shared.QueueUploads); err != nil {
				return err
			}
			res.BatchID = batch.ID
		}

		job, err := e.enqueueUpload(ctx, t, batch.ID)
		if err != nil {
			return err
		}
		res.Add(models.BulkItem{ID: t.ID, Status: t.Status, JobID: job.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Upload enqueues the YouTube upload of a completed track.
func (e *Engine) Upload(ctx context.Context, id int64) (*models.ActionResult, error) {
	t, err := e.tracks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := uploadable(t); err != nil {
		return nil, err
	}

	job, err := e.enqueueUpload(ctx, t, "")
	if err != nil {
		return nil, err
	}
	return &models.ActionResult{Snapshot: t.Snapshot(), JobID: job.ID}, nil
}

func (e *Engine) enqueueUpload(ctx context.Context, t *models.Track, batchID string) (*models.Job, error) {
	return e.dispatcher.Enqueue(ctx, shared.QueueUploads, models.JobUploadTrack, TrackPayload{TrackID: t.ID},
		queue.WithTrack(t.ID), queue.WithBatch(batchID))
}

func uploadable(t *models.Track) error {
	reason := ""
	switch {
	case t.Status != models.StatusCompleted:
		reason = ReasonNotCompleted
	case t.VideoPath == nil || *t.VideoPath == "":
		reason = ReasonNoVideo
	case t.YouTubeVideoID != nil:
		reason = ReasonAlreadyUploaded
	default:
		return nil
	}
	return &lifecycle.TransitionError{Action: "upload", From: t.Status, Reason: reason}
}

func validateBulk(action models.Action, filter models.BulkFilter) error {
	v := &models.ValidationError{}
	switch action {
	case models.ActionStart, models.ActionStop, models.ActionRetry, models.ActionDelete, models.ActionUpload:
	default:
		v.Add("action", "must be one of start, stop, retry, delete")
	}
	if action == models.ActionDelete && filter.Empty() {
		v.Add("filter", "delete requires track_ids, statuses or genre_id")
	}
	for _, st := range filter.Statuses {
		if _, ok := models.ParseStatus(string(st)); !ok {
			v.Add("statuses", fmt.Sprintf("unknown status %q", st))
		}
	}
	return v.OrNil()
}

func newBulkResult(action models.Action) *models.BulkResult {
	return &models.BulkResult{Action: action, Processed: []models.BulkItem{}, Skipped: []models.SkippedItem{}}
}

// walk calls fn for every track matched by filter. Per-track rejections are recorded as skipped;
// requested ids that were never visited are skipped as missing or filtered out.
func (e *Engine) walk(
	ctx context.Context,
	filter models.BulkFilter,
	defaults []models.Status,
	res *models.BulkResult,
	fn func(*models.Track) error,
) error {
	q := models.TrackQuery{IDs: filter.TrackIDs, Statuses: filter.Statuses, GenreID: filter.GenreID}
	if len(q.IDs) == 0 && len(q.Statuses) == 0 {
		q.Statuses = defaults
	}

	visited := mapset.NewThreadUnsafeSet[int64]()
	err := e.tracks.Chunk(ctx, q, BulkChunkSize, func(tracks []*models.Track) error {
		for _, t := range tracks {
			visited.Add(t.ID)
			err := fn(t)
			if err == nil {
				continue
			}
			reason, ok := skipReason(err)
			if !ok {
				return err
			}
			res.Skip(t.ID, reason)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(filter.TrackIDs) == 0 {
		return nil
	}
	requested := mapset.NewThreadUnsafeSet(filter.TrackIDs...)
	unvisited := requested.Difference(visited)
	if unvisited.Cardinality() == 0 {
		return nil
	}

	existing, err := e.tracks.GetMany(ctx, unvisited.ToSlice())
	if err != nil {
		return err
	}
	exists := mapset.NewThreadUnsafeSet[int64]()
	for _, t := range existing {
		exists.Add(t.ID)
	}

	reported := mapset.NewThreadUnsafeSet[int64]()
	for _, id := range filter.TrackIDs {
		if !unvisited.Contains(id) || !reported.Add(id) {
			continue
		}
		reason := ReasonNotFound
		if exists.Contains(id) {
			reason = ReasonFilteredOut
		}
		res.Skip(id, reason)
	}
	return nil
}
