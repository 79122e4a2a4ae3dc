package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/shared"
)

// BeginImport validates req, writes the starting progress record and enqueues the import.
// The returned session id keys the progress record.
func (e *Engine) BeginImport(ctx context.Context, req models.ImportRequest) (*models.ImportSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	session := shared.GenerateID()
	tracker := progress.NewTracker(e.progress, session, e.ttl)
	total := len(req.Items) + len(req.SunoIDs)
	if err := tracker.Begin(ctx, total, "Import queued"); err != nil {
		return nil, err
	}

	job, err := e.dispatcher.Enqueue(ctx, shared.QueueImports, models.JobImportFeed,
		ImportPayload{SessionID: session, Request: req}, queue.WithMaxAttempts(1))
	if err != nil {
		if perr := tracker.Failed(context.WithoutCancel(ctx), err); perr != nil {
			e.logger.Error("failed to record import dispatch failure", "session_id", session, "err", perr)
		}
		return nil, err
	}

	e.logger.Info("import queued", "session_id", session, "job_id", job.ID, "total", total)
	return &models.ImportSession{SessionID: session, JobID: job.ID}, nil
}

// ImporterOptions configures an [Importer].
type ImporterOptions struct {
	ProgressTTL time.Duration
	// Workers resolve Suno song ids concurrently.
	Workers int
	Retry   RetryPolicy
	Logger  *log.Logger
}

// Importer handles import.feed jobs.
type Importer struct {
	engine   *Engine
	tracks   *repositories.TrackRepository
	songs    SongSource
	feeds    FeedSource
	progress progress.Store
	opts     ImporterOptions
	logger   *log.Logger
}

// NewImporter builds the import handler. Started tracks go through engine.
func NewImporter(
	engine *Engine,
	tracks *repositories.TrackRepository,
	songs SongSource,
	feeds FeedSource,
	store progress.Store,
	opts ImporterOptions,
) *Importer {
	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = progress.DefaultTTL
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Importer{
		engine:   engine,
		tracks:   tracks,
		songs:    songs,
		feeds:    feeds,
		progress: store,
		opts:     opts,
		logger:   shared.WithLogger(logger, "component", "importer"),
	}
}

// importEntry is one track to create, or the reason it could not be resolved.
type importEntry struct {
	item   models.ImportItem
	source models.Source
	err    error
}

// Handle runs one import session to completion.
//
// Items that fail are counted and the import continues. The session fails as a whole only when
// its input cannot be read or the job is cancelled.
func (im *Importer) Handle(ctx context.Context, job *models.Job) error {
	var payload ImportPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	req := payload.Request
	logger := shared.WithLogger(im.logger, "session_id", payload.SessionID, "job_id", job.ID)
	tracker := progress.NewTracker(im.progress, payload.SessionID, im.opts.ProgressTTL)

	entries, err := im.entries(ctx, req)
	if err != nil {
		logger.Error("import failed", "err", err)
		im.failed(ctx, logger, tracker, err)
		return queue.Permanent(err)
	}

	total := len(entries)
	if err := tracker.Update(ctx, func(r *models.ProgressRecord) {
		r.Total = total
		r.Message = fmt.Sprintf("Importing %d tracks", total)
	}); err != nil {
		return err
	}

	var imported, failed int
	for i, entry := range entries {
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			im.failed(ctx, logger, tracker, cause)
			return cause
		}

		err := entry.err
		if err == nil {
			err = im.create(ctx, logger, entry, req)
		}
		if err != nil {
			failed++
			logger.Warn("failed to import item", "title", entry.item.Title, "source_id", entry.item.SourceID, "err", err)
		} else {
			imported++
		}

		if err := tracker.Update(ctx, func(r *models.ProgressRecord) {
			r.Imported, r.Failed = imported, failed
			r.Message = fmt.Sprintf("Processed %d of %d", i+1, total)
		}); err != nil {
			logger.Warn("failed to write progress", "err", err)
		}
	}

	msg := fmt.Sprintf("Imported %d tracks", imported)
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}
	if err := tracker.Finish(ctx, msg); err != nil {
		return err
	}
	logger.Info("import finished", "imported", imported, "failed", failed)
	return nil
}

func (im *Importer) failed(ctx context.Context, logger *log.Logger, tracker *progress.Tracker, cause error) {
	if err := tracker.Failed(context.WithoutCancel(ctx), cause); err != nil {
		logger.Error("failed to write progress", "err", err)
	}
}

// entries turns the request into the list of tracks to create.
func (im *Importer) entries(ctx context.Context, req models.ImportRequest) ([]importEntry, error) {
	switch {
	case req.FeedURL != "":
		if im.feeds == nil {
			return nil, fmt.Errorf("%w: feed client is not configured", shared.ErrMissingConfig)
		}
		var items []models.ImportItem
		err := im.opts.Retry.do(ctx, func() error {
			var err error
			items, err = im.feeds.Fetch(ctx, req.FeedURL)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch feed: %w", err)
		}
		return wrapItems(items, models.SourceFeed), nil
	case len(req.SunoIDs) > 0:
		if im.songs == nil {
			return nil, fmt.Errorf("%w: suno client is not configured", shared.ErrMissingConfig)
		}
		return im.resolveSongs(ctx, req.SunoIDs), nil
	default:
		return wrapItems(req.Items, models.SourceManual), nil
	}
}

func wrapItems(items []models.ImportItem, source models.Source) []importEntry {
	entries := make([]importEntry, len(items))
	for i, item := range items {
		entries[i] = importEntry{item: item, source: source}
	}
	return entries
}

// resolveSongs looks up Suno ids with a small worker pool. Results keep the order of ids.
func (im *Importer) resolveSongs(ctx context.Context, ids []string) []importEntry {
	entries := make([]importEntry, len(ids))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range min(im.opts.Workers, len(ids)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				entries[i] = im.resolveSong(ctx, ids[i])
			}
		}()
	}

	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return entries
}

func (im *Importer) resolveSong(ctx context.Context, id string) importEntry {
	id = strings.TrimSpace(id)
	entry := importEntry{item: models.ImportItem{SourceID: id, Title: id}, source: models.SourceSuno}

	err := im.opts.Retry.do(ctx, func() error {
		song, err := im.songs.GetSong(ctx, id)
		if err != nil {
			return err
		}
		entry.item = models.ImportItem{
			Title:    song.Title,
			Artist:   song.DisplayName,
			SourceID: song.ID,
			AudioURL: song.AudioURL,
			ImageURL: song.Cover(),
		}
		if entry.item.Title == "" {
			entry.item.Title = song.ID
		}
		return nil
	})
	entry.err = err
	return entry
}

// create stores one item as a pending track. An item whose source id is already known counts as
// imported without creating a duplicate.
func (im *Importer) create(ctx context.Context, logger *log.Logger, entry importEntry, req models.ImportRequest) error {
	item := entry.item
	if item.SourceID != "" {
		existing, err := im.tracks.GetBySource(ctx, entry.source, item.SourceID)
		if err == nil {
			logger.Debug("track already imported", "track_id", existing.ID, "source_id", item.SourceID)
			return nil
		}
		if !errors.Is(err, shared.ErrTrackNotFound) {
			return err
		}
	}

	genre := strings.TrimSpace(item.Genre)
	if genre == "" {
		genre = req.Genre
	}

	track, err := im.engine.Create(ctx, models.CreateTrackRequest{
		Title:       strings.TrimSpace(item.Title),
		Artist:      strings.TrimSpace(item.Artist),
		Genre:       genre,
		Source:      entry.source,
		SourceID:    item.SourceID,
		AudioURL:    item.AudioURL,
		ImageURL:    item.ImageURL,
		AutoProcess: req.AutoProcess,
	})
	if track != nil && err != nil {
		logger.Warn("track imported but not started", "track_id", track.ID, "err", err)
		return nil
	}
	return err
}
