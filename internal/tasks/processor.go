package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/lifecycle"
	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

// Progress checkpoints of a processing run.
const (
	progressResolved = 10
	progressAudio    = 40
	progressImage    = 60
	progressTagged   = 65
	progressRendered = 90
)

const (
	defaultAudioExt  = ".mp3"
	defaultImageExt  = ".jpg"
	renderedVideoExt = ".mp4"
)

// errReleased means the track stopped being ours to process: it was stopped, deleted or restarted.
var errReleased = errors.New("track released")

// Processor handles track.process jobs.
type Processor struct {
	tracks   *repositories.TrackRepository
	songs    SongSource
	fetcher  Fetcher
	renderer media.Renderer
	files    *media.Store
	batches  BatchChecker
	retry    RetryPolicy
	logger   *log.Logger
}

// ProcessorOptions configures a [Processor].
type ProcessorOptions struct {
	Retry   RetryPolicy
	// Batches lets checkpoints notice batches cancelled by another process. Optional.
	Batches BatchChecker
	Logger  *log.Logger
}

// NewProcessor builds the processing handler.
func NewProcessor(
	tracks *repositories.TrackRepository,
	songs SongSource,
	fetcher Fetcher,
	renderer media.Renderer,
	files *media.Store,
	opts ProcessorOptions,
) *Processor {
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		tracks:   tracks,
		songs:    songs,
		fetcher:  fetcher,
		renderer: renderer,
		files:    files,
		batches:  opts.Batches,
		retry:    opts.Retry,
		logger:   shared.WithLogger(logger, "component", "processor"),
	}
}

// Handle processes the track of job.
//
// A missing track or one that is no longer pending is not an error. Beginning the track claims its
// version; once another write moves it past that version the job lets go without touching it.
// Failures on an attempt that will be retried put the track back to pending; the last attempt
// leaves it failed. A cancelled batch stops the track.
func (p *Processor) Handle(ctx context.Context, job *models.Job) error {
	var payload TrackPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	logger := shared.WithLogger(p.logger, "track_id", payload.TrackID, "job_id", job.ID)

	t, err := settle(ctx, p.tracks, payload.TrackID, func(t *models.Track) error {
		if t.Status != models.StatusPending {
			return errReleased
		}
		return lifecycle.Begin(t)
	})
	switch {
	case errors.Is(err, shared.ErrTrackNotFound):
		logger.Info("track no longer exists, skipping")
		return nil
	case errors.Is(err, errReleased):
		logger.Info("track is not pending, skipping", "status", t.Status)
		return nil
	case err != nil:
		return err
	}

	logger.Info("processing track", "title", t.Title, "attempt", job.Attempts)
	err = p.run(ctx, t, job.BatchID)
	switch {
	case err == nil:
		return p.complete(ctx, logger, t)
	case errors.Is(err, errReleased):
		logger.Info("track released while processing, stopping")
		return nil
	case errors.Is(err, shared.ErrBatchCancelled), errors.Is(context.Cause(ctx), shared.ErrBatchCancelled):
		p.stop(logger, t)
		return shared.ErrBatchCancelled
	default:
		final := queue.IsPermanent(err) || job.Attempts >= job.MaxAttempts
		p.fail(ctx, logger, t, err, final)
		return err
	}
}

func (p *Processor) run(ctx context.Context, t *models.Track, batchID *string) error {
	checkpoint := func(pct int) error {
		return p.checkpoint(ctx, t, batchID, pct)
	}

	if err := p.resolve(ctx, t); err != nil {
		return err
	}
	if err := checkpoint(progressResolved); err != nil {
		return err
	}

	audio, err := p.fetch(ctx, t.AudioPath, media.KindAudio, t.ID, t.AudioURL, defaultAudioExt)
	if err != nil {
		return fmt.Errorf("failed to download audio: %w", err)
	}
	t.AudioPath = &audio
	if err := checkpoint(progressAudio); err != nil {
		return err
	}

	image, err := p.fetch(ctx, t.ImagePath, media.KindImage, t.ID, t.ImageURL, defaultImageExt)
	if err != nil {
		return fmt.Errorf("failed to download cover: %w", err)
	}
	t.ImagePath = &image
	if err := checkpoint(progressImage); err != nil {
		return err
	}

	p.tag(t, audio)
	if err := checkpoint(progressTagged); err != nil {
		return err
	}

	video, err := p.files.Prepare(media.KindVideo, t.ID, renderedVideoExt)
	if err != nil {
		return err
	}
	if err := p.renderer.Render(ctx, media.RenderRequest{ImagePath: image, AudioPath: audio, OutputPath: video}); err != nil {
		if err := p.files.Remove(video); err != nil {
			p.logger.Warn("failed to remove partial video", "track_id", t.ID, "err", err)
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("failed to render video: %w", err)
	}
	t.VideoPath = &video
	return checkpoint(progressRendered)
}

// resolve fills the media urls of Suno tracks that were registered by id only.
func (p *Processor) resolve(ctx context.Context, t *models.Track) error {
	if t.Source == models.SourceSuno && (t.AudioURL == "" || t.ImageURL == "") {
		if p.songs == nil {
			return queue.Permanent(fmt.Errorf("%w: suno client is not configured", shared.ErrMissingConfig))
		}

		var song *services.SunoSong
		err := p.retry.do(ctx, func() error {
			var err error
			song, err = p.songs.GetSong(ctx, t.SourceID)
			return err
		})
		if errors.Is(err, shared.ErrTrackNotFound) {
			return queue.Permanent(fmt.Errorf("suno song %s does not exist", t.SourceID))
		}
		if err != nil {
			return fmt.Errorf("failed to resolve suno song: %w", err)
		}
		if !song.Ready() {
			return fmt.Errorf("suno song %s is not ready (status %s)", t.SourceID, song.Status)
		}

		t.AudioURL, t.ImageURL = song.AudioURL, song.Cover()
		if t.Artist == "" {
			t.Artist = song.DisplayName
		}
	}

	if t.AudioURL == "" {
		return queue.Permanent(fmt.Errorf("%w: track has no audio url", shared.ErrMissingArgument))
	}
	if t.ImageURL == "" {
		return queue.Permanent(fmt.Errorf("%w: track has no image url", shared.ErrMissingArgument))
	}
	return nil
}

// fetch downloads url into the store unless current already points at a stored file.
func (p *Processor) fetch(ctx context.Context, current *string, kind media.Kind, id int64, url, fallbackExt string) (string, error) {
	if current != nil && *current != "" && p.files.Exists(*current) {
		return *current, nil
	}

	ext := extension(url, fallbackExt)
	var stored string
	err := p.retry.do(ctx, func() error {
		pr, pw := io.Pipe()
		go func() {
			_, err := p.fetcher.Download(ctx, url, pw)
			pw.CloseWithError(err)
		}()

		var err error
		stored, err = p.files.Save(kind, id, ext, pr)
		pr.Close()
		return err
	})
	return stored, err
}

// tag fills the artist from the audio file's embedded tags when it is still unknown.
func (p *Processor) tag(t *models.Track, audio string) {
	f, err := p.files.Open(audio)
	if err != nil {
		p.logger.Warn("failed to open audio for tags", "track_id", t.ID, "err", err)
		return
	}
	defer f.Close()

	tags, err := media.ReadTags(f)
	if err != nil {
		p.logger.Debug("no readable tags", "track_id", t.ID, "err", err)
		return
	}
	if t.Artist == "" && tags.Artist != "" {
		t.Artist = tags.Artist
	}
}

// checkpoint records progress on the claimed version of t. It fails when the context is done, the
// batch was cancelled or the track was released.
func (p *Processor) checkpoint(ctx context.Context, t *models.Track, batchID *string, pct int) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if batchID != nil && p.batches != nil {
		cancelled, err := p.batches.IsCancelled(ctx, *batchID)
		if err != nil {
			return err
		}
		if cancelled {
			return shared.ErrBatchCancelled
		}
	}

	err := p.tracks.UpdateProgress(ctx, t.ID, t.Version, pct)
	if errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrTrackNotFound) {
		return errReleased
	}
	return err
}

func (p *Processor) complete(ctx context.Context, logger *log.Logger, done *models.Track) error {
	_, err := settle(ctx, p.tracks, done.ID, claimed(done.Version, func(t *models.Track) error {
		t.Artist = done.Artist
		t.AudioURL, t.ImageURL = done.AudioURL, done.ImageURL
		t.AudioPath, t.ImagePath, t.VideoPath = done.AudioPath, done.ImagePath, done.VideoPath
		return lifecycle.Complete(t)
	}))

	var te *lifecycle.TransitionError
	switch {
	case err == nil:
		logger.Info("track processed", "video", *done.VideoPath)
		return nil
	case errors.Is(err, shared.ErrTrackNotFound):
		logger.Info("track deleted before completion, discarding media")
		if err := p.files.RemoveAll(done.MediaPaths()); err != nil {
			logger.Warn("failed to remove media", "err", err)
		}
		return nil
	case errors.As(err, &te):
		logger.Info("track released before completion", "status", te.From)
		return nil
	case errors.Is(err, errReleased):
		logger.Info("track restarted before completion, leaving it to the newer job")
		return nil
	default:
		return err
	}
}

// fail records a failed attempt. Unless final the track goes back to pending for the next attempt.
func (p *Processor) fail(ctx context.Context, logger *log.Logger, claim *models.Track, cause error, final bool) {
	ctx = context.WithoutCancel(ctx)
	msg := strings.TrimSpace(cause.Error())

	_, err := settle(ctx, p.tracks, claim.ID, claimed(claim.Version, func(t *models.Track) error {
		if err := lifecycle.Fail(t, msg); err != nil {
			return err
		}
		if final {
			return nil
		}
		return lifecycle.Retry(t, false)
	}))

	var te *lifecycle.TransitionError
	switch {
	case err == nil && final:
		logger.Error("track failed", "err", cause)
	case err == nil:
		logger.Warn("processing attempt failed, track will be retried", "err", cause)
	case errors.As(err, &te), errors.Is(err, shared.ErrTrackNotFound), errors.Is(err, errReleased):
	default:
		logger.Error("failed to record track failure", "err", err)
	}
}

func (p *Processor) stop(logger *log.Logger, claim *models.Track) {
	ctx := context.Background()
	_, err := settle(ctx, p.tracks, claim.ID, claimed(claim.Version, lifecycle.Stop))

	var te *lifecycle.TransitionError
	switch {
	case err == nil:
		logger.Info("track stopped with its batch")
	case errors.As(err, &te), errors.Is(err, shared.ErrTrackNotFound), errors.Is(err, errReleased):
	default:
		logger.Error("failed to stop track", "err", err)
	}
}

// claimed wraps fn so it only applies while the track is still at the version the job claimed.
func claimed(version int64, fn func(*models.Track) error) func(*models.Track) error {
	return func(t *models.Track) error {
		if t.Version != version {
			return errReleased
		}
		return fn(t)
	}
}

// extension returns the file extension of a url path, or fallback when there is none.
func extension(rawURL, fallback string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}
