package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go"

	"github.com/desertthunder/trackline/internal/lifecycle"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

// BulkChunkSize is how many tracks a bulk operation loads and applies at a time.
const BulkChunkSize = 100

// conflictRetries bounds how often a write is re-attempted against a fresh read.
const conflictRetries = 3

// SongSource resolves Suno song ids. Implemented by [services.SunoClient].
type SongSource interface {
	GetSong(ctx context.Context, id string) (*services.SunoSong, error)
}

// FeedSource fetches JSON track feeds. Implemented by [services.FeedClient].
type FeedSource interface {
	Fetch(ctx context.Context, url string) ([]models.ImportItem, error)
}

// Fetcher streams a remote file. Implemented by [services.Downloader].
type Fetcher interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// VideoUploader publishes a rendered video. Implemented by [services.YouTubeUploader].
type VideoUploader interface {
	Upload(ctx context.Context, video services.Video, media io.Reader) (string, error)
}

// BatchChecker reports whether a batch was cancelled, possibly by another process.
// Implemented by [repositories.BatchRepository].
type BatchChecker interface {
	IsCancelled(ctx context.Context, id string) (bool, error)
}

// TrackPayload is the payload of track.process and track.upload jobs.
type TrackPayload struct {
	TrackID int64 `json:"track_id"`
}

// ImportPayload is the payload of import.feed jobs.
type ImportPayload struct {
	SessionID string               `json:"session_id"`
	Request   models.ImportRequest `json:"request"`
}

// RetryPolicy configures how provider calls inside a job are retried.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

// DefaultRetryPolicy retries provider calls three times with exponential backoff from one second.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: time.Second}

// do runs fn until it succeeds, ctx ends or fn returns an error that is not worth retrying.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(services.IsRetryable),
	)
}

func decodePayload(job *models.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return queue.Permanent(fmt.Errorf("%w: %s payload: %v", shared.ErrInvalidInput, job.Type, err))
	}
	return nil
}

// mutate applies fn to t and writes it, re-reading the track and re-applying fn when the
// version moved underneath. fn must be safe to call more than once.
func mutate(ctx context.Context, tracks *repositories.TrackRepository, t *models.Track, fn func(*models.Track) error) (*models.Track, error) {
	for attempt := 0; ; attempt++ {
		if err := fn(t); err != nil {
			return t, err
		}

		err := tracks.Update(ctx, t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, shared.ErrConflict) || attempt >= conflictRetries {
			return nil, err
		}

		if t, err = tracks.Get(ctx, t.ID); err != nil {
			return nil, err
		}
	}
}

// settle re-reads the track and applies fn with [mutate].
func settle(ctx context.Context, tracks *repositories.TrackRepository, id int64, fn func(*models.Track) error) (*models.Track, error) {
	t, err := tracks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return mutate(ctx, tracks, t, fn)
}

// skipReason turns a per-track failure into the reason reported by bulk operations.
// ok is false for errors that should abort the whole operation.
func skipReason(err error) (reason string, ok bool) {
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &te):
		return te.Reason, true
	case errors.Is(err, shared.ErrTrackNotFound):
		return ReasonNotFound, true
	case errors.Is(err, shared.ErrConflict):
		return "changed concurrently", true
	case errors.Is(err, shared.ErrDispatch):
		return "dispatch failed", true
	default:
		return "", false
	}
}

// Register binds the handlers to their job types. Tracks of processing jobs cancelled before
// they ran are stopped, and tracks of requeued processing jobs go back to pending.
func Register(d *queue.Dispatcher, e *Engine, p *Processor, u *Uploader, im *Importer) {
	d.Register(models.JobProcessTrack, p)
	d.Register(models.JobUploadTrack, u)
	d.Register(models.JobImportFeed, im)
	d.OnCancel(e.HandleCancelled)
	d.OnRequeue(e.HandleRequeued)
}
