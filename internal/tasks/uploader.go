package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

// Uploader handles track.upload jobs.
type Uploader struct {
	tracks   *repositories.TrackRepository
	genres   *repositories.GenreRepository
	uploader VideoUploader
	files    *media.Store
	retry    RetryPolicy
	logger   *log.Logger
}

// UploaderOptions configures an [Uploader].
type UploaderOptions struct {
	Retry  RetryPolicy
	Logger *log.Logger
}

// NewUploader builds the upload handler. A nil uploader fails every job until credentials are configured.
func NewUploader(
	tracks *repositories.TrackRepository,
	genres *repositories.GenreRepository,
	uploader VideoUploader,
	files *media.Store,
	opts UploaderOptions,
) *Uploader {
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Uploader{
		tracks:   tracks,
		genres:   genres,
		uploader: uploader,
		files:    files,
		retry:    opts.Retry,
		logger:   shared.WithLogger(logger, "component", "uploader"),
	}
}

// Handle uploads the rendered video of a completed track and records the YouTube video id.
func (u *Uploader) Handle(ctx context.Context, job *models.Job) error {
	var payload TrackPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	logger := shared.WithLogger(u.logger, "track_id", payload.TrackID, "job_id", job.ID)

	if u.uploader == nil {
		return queue.Permanent(fmt.Errorf("%w: youtube", shared.ErrNotAuthenticated))
	}

	t, err := u.tracks.Get(ctx, payload.TrackID)
	if errors.Is(err, shared.ErrTrackNotFound) {
		logger.Info("track no longer exists, skipping")
		return nil
	} else if err != nil {
		return err
	}

	if t.YouTubeVideoID != nil {
		logger.Info("track already uploaded, skipping", "video_id", *t.YouTubeVideoID)
		return nil
	}
	if err := uploadable(t); err != nil {
		return queue.Permanent(err)
	}

	video := u.video(ctx, t)
	var videoID string
	err = u.retry.do(ctx, func() error {
		f, err := u.files.Open(*t.VideoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		videoID, err = u.uploader.Upload(ctx, video, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload video: %w", err)
	}

	_, err = settle(context.WithoutCancel(ctx), u.tracks, t.ID, func(t *models.Track) error {
		t.YouTubeVideoID = &videoID
		return nil
	})
	if errors.Is(err, shared.ErrTrackNotFound) {
		logger.Warn("track deleted during upload", "video_id", videoID)
		return nil
	} else if err != nil {
		return err
	}

	logger.Info("track uploaded", "video_id", videoID)
	return nil
}

func (u *Uploader) video(ctx context.Context, t *models.Track) services.Video {
	title := t.Title
	if t.Artist != "" {
		title = t.Artist + " - " + t.Title
	}

	tags := []string{}
	if t.Artist != "" {
		tags = append(tags, t.Artist)
	}
	if t.GenreID != nil {
		if genre, err := u.genres.Get(ctx, *t.GenreID); err == nil {
			tags = append(tags, genre.Name)
		}
	}

	var desc strings.Builder
	desc.WriteString(t.Title)
	if t.Artist != "" {
		fmt.Fprintf(&desc, " by %s", t.Artist)
	}
	if t.Source == models.SourceSuno {
		fmt.Fprintf(&desc, "\n\nMade with Suno (%s)", t.SourceID)
	}

	return services.Video{Title: title, Description: desc.String(), Tags: tags}
}
