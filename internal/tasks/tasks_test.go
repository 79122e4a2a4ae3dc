package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/desertthunder/trackline/internal/lifecycle"
	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
	tu "github.com/desertthunder/trackline/internal/testing"
)

const (
	audioURL = "https://cdn.example.com/song.mp3"
	imageURL = "https://cdn.example.com/cover.png"
)

type fixture struct {
	db         *sql.DB
	options    queue.Options
	tracks     *repositories.TrackRepository
	genres     *repositories.GenreRepository
	jobs       *repositories.JobRepository
	batches    *repositories.BatchRepository
	broker     *tu.FailingBroker
	dispatcher *queue.Dispatcher
	clock      *tu.Clock
	progress   *progress.MemoryStore
	files      *media.Store

	songs      *tu.FakeSongSource
	feed       *tu.FakeFeed
	downloader *tu.FakeDownloader
	renderer   *tu.FakeRenderer
	uploader   *tu.FakeUploader

	engine     *Engine
	processor  *Processor
	importer   *Importer
	reconciler *Reconciler
}

func newFixture(t *testing.T, opts ...func(*queue.Options)) *fixture {
	t.Helper()

	db := tu.NewTestDB(t)
	logger := log.New(io.Discard)

	qopts := queue.Options{
		Workers:      map[string]int{shared.QueueProcessing: 1, shared.QueueUploads: 1, shared.QueueImports: 1},
		MaxAttempts:  1,
		PollInterval: 10 * time.Millisecond,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&qopts)
	}

	f := &fixture{
		db:      db,
		options: qopts,
		tracks:  repositories.NewTrackRepository(db),
		genres:  repositories.NewGenreRepository(db),
		jobs:    repositories.NewJobRepository(db),
		batches: repositories.NewBatchRepository(db),
		broker:  tu.NewFailingBroker(),
		clock:   tu.NewClock(time.Now()),
		files:   media.NewStore(afero.NewMemMapFs()),
		songs:   &tu.FakeSongSource{Songs: map[string]*services.SunoSong{}},
		feed:    &tu.FakeFeed{},
		downloader: &tu.FakeDownloader{Bodies: map[string]string{
			audioURL: "audio",
			imageURL: "image",
		}},
		uploader: &tu.FakeUploader{VideoID: "yt-123"},
	}
	f.progress = progress.NewMemoryStoreWithClock(f.clock.Now)
	f.renderer = &tu.FakeRenderer{Store: f.files}
	f.dispatcher = queue.NewDispatcher(f.broker, f.jobs, f.batches, repositories.NewQueueRepository(db), qopts)

	retry := RetryPolicy{Attempts: 3, Delay: time.Millisecond}
	f.engine = NewEngine(f.tracks, f.genres, f.dispatcher, f.progress, f.files, EngineOptions{Logger: logger})
	f.processor = NewProcessor(f.tracks, f.songs, f.downloader, f.renderer, f.files, ProcessorOptions{Retry: retry, Batches: f.batches, Logger: logger})
	f.importer = NewImporter(f.engine, f.tracks, f.songs, f.feed, f.progress, ImporterOptions{Retry: retry, Logger: logger})
	f.reconciler = NewReconciler(f.tracks, f.dispatcher, f.progress, time.Minute, logger)

	uploader := NewUploader(f.tracks, f.genres, f.uploader, f.files, UploaderOptions{Retry: retry, Logger: logger})
	Register(f.dispatcher, f.engine, f.processor, uploader, f.importer)
	return f
}

// peer returns a second dispatcher over the same database, standing in for another process.
func (f *fixture) peer() *queue.Dispatcher {
	return queue.NewDispatcher(tu.NewFailingBroker(), repositories.NewJobRepository(f.db), repositories.NewBatchRepository(f.db),
		repositories.NewQueueRepository(f.db), f.options)
}

// run starts the workers and stops them when the test ends.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// hold makes renders block until release is called. Call after run so the gate opens before shutdown.
func (f *fixture) hold(t *testing.T) (started <-chan struct{}, release func()) {
	t.Helper()
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	f.renderer.Gate, f.renderer.Started = gate, ch

	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return ch, release
}

func (f *fixture) create(t *testing.T, title string, status models.Status) *models.Track {
	t.Helper()
	track := &models.Track{Title: title, Artist: "Artist", Status: status, AudioURL: audioURL, ImageURL: imageURL}
	if err := f.tracks.Create(context.Background(), track); err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	return track
}

func (f *fixture) get(t *testing.T, id int64) *models.Track {
	t.Helper()
	track, err := f.tracks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get track %d: %v", id, err)
	}
	return track
}

func (f *fixture) waitTrack(t *testing.T, id int64, want models.Status) *models.Track {
	t.Helper()
	var track *models.Track
	tu.Eventually(t, 2*time.Second, func() bool {
		track = f.get(t, id)
		return track.Status == want
	}, "track %d: expected status %s", id, want)
	return track
}

func (f *fixture) waitJob(t *testing.T, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	tu.Eventually(t, 2*time.Second, func() bool {
		var err error
		job, err = f.jobs.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, "job %s: expected status %s", id, want)
	return job
}

func (f *fixture) saveMedia(t *testing.T, kind media.Kind, id int64, ext string) string {
	t.Helper()
	p, err := f.files.Save(kind, id, ext, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("failed to save media: %v", err)
	}
	return p
}

func bulkIDs(items []models.BulkItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func TestEngineTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("start enqueues a processing job", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusFailed)

		res, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if res.Status != models.StatusPending || res.JobID == "" {
			t.Errorf("expected pending with a job, got %+v", res)
		}
		if f.broker.Len(shared.QueueProcessing) != 1 {
			t.Errorf("expected 1 published job, got %d", f.broker.Len(shared.QueueProcessing))
		}

		job, err := f.jobs.Get(ctx, res.JobID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if job.Type != models.JobProcessTrack || job.TrackID == nil || *job.TrackID != track.ID {
			t.Errorf("unexpected job %+v", job)
		}
	})

	t.Run("start rejects a processing track", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusProcessing)

		_, err := f.engine.Start(ctx, track.ID, false)
		if !errors.Is(err, shared.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if f.broker.Len(shared.QueueProcessing) != 0 {
			t.Error("expected nothing published")
		}
	})

	t.Run("forced start discards media", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusProcessing)
		audio := f.saveMedia(t, media.KindAudio, track.ID, ".mp3")
		track.AudioPath = &audio
		if err := f.tracks.Update(ctx, track); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}

		if _, err := f.engine.Start(ctx, track.ID, true); err != nil {
			t.Fatalf("failed to force start: %v", err)
		}

		got := f.get(t, track.ID)
		if got.Status != models.StatusPending || got.AudioPath != nil {
			t.Errorf("expected pending without media, got %s %v", got.Status, got.AudioPath)
		}
		if f.files.Exists(audio) {
			t.Error("expected audio file to be removed")
		}
	})

	t.Run("stop", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Stop(ctx, track.ID)
		if err != nil {
			t.Fatalf("failed to stop: %v", err)
		}
		if res.Status != models.StatusStopped || res.JobID != "" {
			t.Errorf("unexpected result %+v", res)
		}
		if got := f.get(t, track.ID); got.ErrorText() != lifecycle.StoppedMessage {
			t.Errorf("expected stopped message, got %q", got.ErrorText())
		}

		if _, err := f.engine.Stop(ctx, track.ID); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected second stop to fail with ErrInvalidState, got %v", err)
		}
	})

	t.Run("retry", func(t *testing.T) {
		f := newFixture(t)
		failed := f.create(t, "Failed", models.StatusFailed)
		stopped := f.create(t, "Stopped", models.StatusStopped)

		res, err := f.engine.Retry(ctx, failed.ID)
		if err != nil {
			t.Fatalf("failed to retry: %v", err)
		}
		if res.Status != models.StatusPending || res.JobID == "" {
			t.Errorf("unexpected result %+v", res)
		}

		var te *lifecycle.TransitionError
		if _, err := f.engine.Retry(ctx, stopped.ID); !errors.As(err, &te) || te.Reason != lifecycle.ReasonNotFailed {
			t.Errorf("expected not failed rejection, got %v", err)
		}
	})

	t.Run("unknown track", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.Start(ctx, 42, false); !errors.Is(err, shared.ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound, got %v", err)
		}
	})

	t.Run("dispatch failure restores the track", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusFailed)
		msg := "boom"
		track.ErrorMessage = &msg
		if err := f.tracks.Update(ctx, track); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}
		f.broker.Fail(errors.New("broker down"))

		_, err := f.engine.Start(ctx, track.ID, false)
		if !errors.Is(err, shared.ErrDispatch) {
			t.Fatalf("expected ErrDispatch, got %v", err)
		}

		got := f.get(t, track.ID)
		if got.Status != models.StatusFailed || got.ErrorText() != "boom" {
			t.Errorf("expected failed track to be restored, got %s %q", got.Status, got.ErrorText())
		}
	})
}

func TestEngineCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates genre and starts", func(t *testing.T) {
		f := newFixture(t)
		track, err := f.engine.Create(ctx, models.CreateTrackRequest{
			Title:       "Song",
			Genre:       "lofi",
			AudioURL:    audioURL,
			ImageURL:    imageURL,
			AutoProcess: true,
		})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		if track.Source != models.SourceManual || track.GenreID == nil {
			t.Errorf("unexpected track %+v", track)
		}
		if track.Version != 2 {
			t.Errorf("expected the start to bump the version, got %d", track.Version)
		}
		if f.broker.Len(shared.QueueProcessing) != 1 {
			t.Errorf("expected a processing job")
		}

		genre, err := f.genres.GetByName(ctx, "lofi")
		if err != nil || genre.ID != *track.GenreID {
			t.Errorf("expected genre lofi to be linked, got %v %v", genre, err)
		}
	})

	t.Run("rejects invalid tracks", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Create(ctx, models.CreateTrackRequest{Title: " "})
		var v *models.ValidationError
		if !errors.As(err, &v) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("duplicate genre", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.CreateGenre(ctx, "lofi"); err != nil {
			t.Fatalf("failed to create genre: %v", err)
		}
		if _, err := f.engine.CreateGenre(ctx, "lofi"); !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestEngineDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, "Song", models.StatusCompleted)
	video := f.saveMedia(t, media.KindVideo, track.ID, ".mp4")
	track.VideoPath = &video
	if err := f.tracks.Update(ctx, track); err != nil {
		t.Fatalf("failed to update track: %v", err)
	}

	if err := f.engine.Delete(ctx, track.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := f.tracks.Get(ctx, track.ID); !errors.Is(err, shared.ErrTrackNotFound) {
		t.Errorf("expected track to be gone, got %v", err)
	}
	if f.files.Exists(video) {
		t.Error("expected video to be removed")
	}
	if err := f.engine.Delete(ctx, track.ID); !errors.Is(err, shared.ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestStatusBulk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", models.StatusPending)
	b := f.create(t, "B", models.StatusFailed)

	t.Run("keeps request order without duplicates", func(t *testing.T) {
		snaps, err := f.engine.StatusBulk(ctx, []int64{b.ID, a.ID, b.ID})
		if err != nil {
			t.Fatalf("failed to get statuses: %v", err)
		}
		if len(snaps) != 2 || snaps[0].ID != b.ID || snaps[1].ID != a.ID {
			t.Errorf("unexpected snapshots %+v", snaps)
		}
		if snaps[0].Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", snaps[0].Status)
		}
	})

	t.Run("missing ids", func(t *testing.T) {
		_, err := f.engine.StatusBulk(ctx, []int64{a.ID, 99, 98})
		if !errors.Is(err, shared.ErrTrackNotFound) {
			t.Fatalf("expected ErrTrackNotFound, got %v", err)
		}
		if !strings.Contains(err.Error(), "98, 99") {
			t.Errorf("expected missing ids in %q", err)
		}
	})

	t.Run("no ids", func(t *testing.T) {
		_, err := f.engine.StatusBulk(ctx, nil)
		var v *models.ValidationError
		if !errors.As(err, &v) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("start skips processing tracks", func(t *testing.T) {
		f := newFixture(t)
		one := f.create(t, "One", models.StatusPending)
		two := f.create(t, "Two", models.StatusProcessing)
		three := f.create(t, "Three", models.StatusFailed)

		res, err := f.engine.Bulk(ctx, models.ActionStart, models.BulkFilter{TrackIDs: []int64{one.ID, two.ID, three.ID}})
		if err != nil {
			t.Fatalf("bulk start failed: %v", err)
		}

		if got := bulkIDs(res.Processed); !slices.Equal(got, []int64{one.ID, three.ID}) {
			t.Errorf("expected processed %v, got %v", []int64{one.ID, three.ID}, got)
		}
		if res.ProcessedCount != 2 {
			t.Errorf("expected processed count 2, got %d", res.ProcessedCount)
		}
		want := []models.SkippedItem{{ID: two.ID, Reason: lifecycle.ReasonAlreadyProcessing}}
		if !slices.Equal(res.Skipped, want) {
			t.Errorf("expected skipped %v, got %v", want, res.Skipped)
		}
		if res.BatchID == "" {
			t.Fatal("expected a batch id")
		}

		stats, err := f.dispatcher.BatchStats(ctx, res.BatchID)
		if err != nil {
			t.Fatalf("failed to get batch stats: %v", err)
		}
		if stats.Jobs.Total != 2 || stats.Jobs.Pending != 2 {
			t.Errorf("expected 2 queued jobs in batch, got %+v", stats.Jobs)
		}
	})

	t.Run("reports missing and filtered ids", func(t *testing.T) {
		f := newFixture(t)
		failed := f.create(t, "Failed", models.StatusFailed)
		done := f.create(t, "Done", models.StatusCompleted)

		res, err := f.engine.Bulk(ctx, models.ActionRetry, models.BulkFilter{
			TrackIDs: []int64{failed.ID, 99, done.ID, 99},
			Statuses: []models.Status{models.StatusFailed},
		})
		if err != nil {
			t.Fatalf("bulk retry failed: %v", err)
		}

		if got := bulkIDs(res.Processed); !slices.Equal(got, []int64{failed.ID}) {
			t.Errorf("expected processed %v, got %v", []int64{failed.ID}, got)
		}
		want := []models.SkippedItem{
			{ID: 99, Reason: ReasonNotFound},
			{ID: done.ID, Reason: ReasonFilteredOut},
		}
		if !slices.Equal(res.Skipped, want) {
			t.Errorf("expected skipped %v, got %v", want, res.Skipped)
		}
	})

	t.Run("stop uses default statuses", func(t *testing.T) {
		f := newFixture(t)
		pending := f.create(t, "Pending", models.StatusPending)
		processing := f.create(t, "Processing", models.StatusProcessing)
		f.create(t, "Completed", models.StatusCompleted)

		res, err := f.engine.Bulk(ctx, models.ActionStop, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk stop failed: %v", err)
		}
		if got := bulkIDs(res.Processed); !slices.Equal(got, []int64{pending.ID, processing.ID}) {
			t.Errorf("unexpected processed %v", got)
		}
		if res.BatchID != "" || f.broker.Len(shared.QueueProcessing) != 0 {
			t.Error("expected stop to enqueue nothing")
		}
		for _, id := range []int64{pending.ID, processing.ID} {
			if got := f.get(t, id); got.Status != models.StatusStopped {
				t.Errorf("track %d: expected stopped, got %s", id, got.Status)
			}
		}
	})

	t.Run("retry accepts stopped tracks", func(t *testing.T) {
		f := newFixture(t)
		stopped := f.create(t, "Stopped", models.StatusStopped)

		res, err := f.engine.Bulk(ctx, models.ActionRetry, models.BulkFilter{TrackIDs: []int64{stopped.ID}})
		if err != nil {
			t.Fatalf("bulk retry failed: %v", err)
		}
		if res.ProcessedCount != 1 || res.Processed[0].JobID == "" {
			t.Errorf("expected stopped track to be retried, got %+v", res)
		}
	})

	t.Run("delete requires a filter", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "Song", models.StatusFailed)

		_, err := f.engine.Bulk(ctx, models.ActionDelete, models.BulkFilter{})
		var v *models.ValidationError
		if !errors.As(err, &v) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if n, _ := f.tracks.Count(ctx, models.TrackQuery{}); n != 1 {
			t.Errorf("expected nothing deleted, %d tracks left", n)
		}
	})

	t.Run("delete by status", func(t *testing.T) {
		f := newFixture(t)
		failed := f.create(t, "Failed", models.StatusFailed)
		kept := f.create(t, "Kept", models.StatusCompleted)
		audio := f.saveMedia(t, media.KindAudio, failed.ID, ".mp3")
		failed.AudioPath = &audio
		if err := f.tracks.Update(ctx, failed); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}

		res, err := f.engine.Bulk(ctx, models.ActionDelete, models.BulkFilter{Statuses: []models.Status{models.StatusFailed}})
		if err != nil {
			t.Fatalf("bulk delete failed: %v", err)
		}
		if res.ProcessedCount != 1 {
			t.Errorf("expected 1 deleted, got %d", res.ProcessedCount)
		}
		if f.files.Exists(audio) {
			t.Error("expected media to be removed")
		}
		f.get(t, kept.ID)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newFixture(t)
		tests := []struct {
			name   string
			action models.Action
			filter models.BulkFilter
		}{
			{"unknown action", models.Action("explode"), models.BulkFilter{}},
			{"unknown status", models.ActionStart, models.BulkFilter{Statuses: []models.Status{"sleeping"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.engine.Bulk(ctx, tt.action, tt.filter)
				var v *models.ValidationError
				if !errors.As(err, &v) {
					t.Errorf("expected validation error, got %v", err)
				}
			})
		}
	})

	t.Run("walks every chunk", func(t *testing.T) {
		f := newFixture(t)
		n := BulkChunkSize*2 + 50
		for i := range n {
			f.create(t, fmt.Sprintf("Song %d", i), models.StatusPending)
		}

		res, err := f.engine.Bulk(ctx, models.ActionStop, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk stop failed: %v", err)
		}
		if res.ProcessedCount != n || len(res.Skipped) != 0 {
			t.Errorf("expected %d processed, got %d (%d skipped)", n, res.ProcessedCount, len(res.Skipped))
		}
	})

	t.Run("dispatch failure is reported per track", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusFailed)
		f.broker.Fail(errors.New("broker down"))

		res, err := f.engine.Bulk(ctx, models.ActionRetry, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk retry failed: %v", err)
		}
		want := []models.SkippedItem{{ID: track.ID, Reason: "dispatch failed"}}
		if !slices.Equal(res.Skipped, want) {
			t.Errorf("expected skipped %v, got %v", want, res.Skipped)
		}
		if got := f.get(t, track.ID); got.Status != models.StatusFailed {
			t.Errorf("expected track restored to failed, got %s", got.Status)
		}
	})
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("renders a video", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}

		got := f.waitTrack(t, track.ID, models.StatusCompleted)
		f.waitJob(t, res.JobID, models.JobSucceeded)

		if got.Progress != 100 || got.ErrorMessage != nil {
			t.Errorf("unexpected completed track %+v", got)
		}
		for _, p := range []*string{got.AudioPath, got.ImagePath, got.VideoPath} {
			if p == nil || !f.files.Exists(*p) {
				t.Errorf("expected stored media, got %v", p)
			}
		}
		if *got.ImagePath != "images/1.png" {
			t.Errorf("expected cover to keep its extension, got %s", *got.ImagePath)
		}

		reqs := f.renderer.Requests()
		if len(reqs) != 1 || reqs[0].AudioPath != *got.AudioPath || reqs[0].OutputPath != *got.VideoPath {
			t.Errorf("unexpected render requests %+v", reqs)
		}
	})

	t.Run("resolves suno songs", func(t *testing.T) {
		f := newFixture(t)
		f.songs.Songs["abc"] = &services.SunoSong{
			ID:            "abc",
			Title:         "Generated",
			DisplayName:   "Suno Artist",
			Status:        "complete",
			AudioURL:      audioURL,
			ImageURL:      "https://cdn.example.com/small.png",
			ImageLargeURL: imageURL,
		}
		f.run(t)

		track, err := f.engine.Create(ctx, models.CreateTrackRequest{Title: "Generated", Source: models.SourceSuno, SourceID: "abc", AutoProcess: true})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		got := f.waitTrack(t, track.ID, models.StatusCompleted)
		if got.AudioURL != audioURL || got.ImageURL != imageURL || got.Artist != "Suno Artist" {
			t.Errorf("expected resolved song fields, got %+v", got)
		}
	})

	t.Run("unknown suno song fails permanently", func(t *testing.T) {
		f := newFixture(t, func(o *queue.Options) { o.MaxAttempts = 3 })
		f.run(t)

		track, err := f.engine.Create(ctx, models.CreateTrackRequest{Title: "Gone", Source: models.SourceSuno, SourceID: "gone", AutoProcess: true})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		got := f.waitTrack(t, track.ID, models.StatusFailed)
		if !strings.Contains(got.ErrorText(), "does not exist") {
			t.Errorf("unexpected error message %q", got.ErrorText())
		}
		if f.songs.Calls() != 1 {
			t.Errorf("expected a single lookup, got %d", f.songs.Calls())
		}
	})

	t.Run("missing download fails the track", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)
		track.AudioURL = "https://cdn.example.com/missing.mp3"
		if err := f.tracks.Update(ctx, track); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}

		res, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}

		got := f.waitTrack(t, track.ID, models.StatusFailed)
		if !strings.Contains(got.ErrorText(), "failed to download audio") {
			t.Errorf("unexpected error message %q", got.ErrorText())
		}
		f.waitJob(t, res.JobID, models.JobFailed)
		if f.downloader.Calls() != 1 {
			t.Errorf("expected no retry for a 404, got %d calls", f.downloader.Calls())
		}
	})

	t.Run("retries flaky downloads", func(t *testing.T) {
		f := newFixture(t)
		f.downloader.Flaky = 2
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)

		if _, err := f.engine.Start(ctx, track.ID, false); err != nil {
			t.Fatalf("failed to start: %v", err)
		}

		f.waitTrack(t, track.ID, models.StatusCompleted)
		if f.downloader.Calls() != 4 {
			t.Errorf("expected 4 download calls, got %d", f.downloader.Calls())
		}
	})

	t.Run("failed attempts return the track to pending", func(t *testing.T) {
		f := newFixture(t, func(o *queue.Options) { o.MaxAttempts = 2 })
		f.renderer.Err = errors.New("encoder crashed")
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}

		job := f.waitJob(t, res.JobID, models.JobFailed)
		if job.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", job.Attempts)
		}
		got := f.waitTrack(t, track.ID, models.StatusFailed)
		if !strings.Contains(got.ErrorText(), "encoder crashed") {
			t.Errorf("unexpected error message %q", got.ErrorText())
		}
		if len(f.renderer.Requests()) != 2 {
			t.Errorf("expected 2 renders, got %d", len(f.renderer.Requests()))
		}
		if got.VideoPath != nil {
			t.Errorf("expected no video, got %s", *got.VideoPath)
		}
	})

	t.Run("stopping mid render", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		started, release := f.hold(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		<-started

		if _, err := f.engine.Stop(ctx, track.ID); err != nil {
			t.Fatalf("failed to stop: %v", err)
		}
		release()

		f.waitJob(t, res.JobID, models.JobSucceeded)
		got := f.get(t, track.ID)
		if got.Status != models.StatusStopped || got.VideoPath != nil {
			t.Errorf("expected stopped track without video, got %s %v", got.Status, got.VideoPath)
		}
	})

	t.Run("cancelling a batch stops its tracks", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		started, _ := f.hold(t)
		one := f.create(t, "One", models.StatusPending)
		two := f.create(t, "Two", models.StatusPending)

		res, err := f.engine.Bulk(ctx, models.ActionStart, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk start failed: %v", err)
		}
		<-started

		cancelled, err := f.dispatcher.CancelBatch(ctx, res.BatchID)
		if err != nil {
			t.Fatalf("failed to cancel batch: %v", err)
		}
		if cancelled.Running != 1 || cancelled.Queued != 1 {
			t.Errorf("expected 1 running and 1 queued, got %+v", cancelled)
		}

		f.waitTrack(t, one.ID, models.StatusStopped)
		f.waitTrack(t, two.ID, models.StatusStopped)
		tu.Eventually(t, 2*time.Second, func() bool {
			stats, err := f.dispatcher.BatchStats(ctx, res.BatchID)
			return err == nil && stats.Jobs.Cancelled == 2
		}, "expected both jobs cancelled")
	})

	t.Run("a batch cancelled by another process stops the running track", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		started, release := f.hold(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Bulk(ctx, models.ActionStart, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk start failed: %v", err)
		}
		<-started

		if _, err := f.peer().CancelBatch(ctx, res.BatchID); err != nil {
			t.Fatalf("failed to cancel batch: %v", err)
		}
		release()

		got := f.waitTrack(t, track.ID, models.StatusStopped)
		if got.VideoPath != nil {
			t.Errorf("expected no video, got %s", *got.VideoPath)
		}
		tu.Eventually(t, 2*time.Second, func() bool {
			jobs, err := f.jobs.ByBatch(ctx, res.BatchID, models.JobCancelled)
			return err == nil && len(jobs) == 1
		}, "expected the running job cancelled")
	})

	t.Run("a forced restart supersedes the running job", func(t *testing.T) {
		f := newFixture(t, func(o *queue.Options) { o.Workers[shared.QueueProcessing] = 2 })
		first, second := make(chan struct{}), make(chan struct{})
		started := make(chan struct{}, 1)
		f.renderer.Gates, f.renderer.Started = []chan struct{}{first, second}, started
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)

		old, err := f.engine.Start(ctx, track.ID, false)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		<-started

		forced, err := f.engine.Start(ctx, track.ID, true)
		if err != nil {
			t.Fatalf("failed to force start: %v", err)
		}
		<-started

		close(first)
		f.waitJob(t, old.JobID, models.JobSucceeded)
		if got := f.get(t, track.ID); got.Status != models.StatusProcessing {
			t.Errorf("superseded job must leave the track to the newer one, got %s", got.Status)
		}

		close(second)
		got := f.waitTrack(t, track.ID, models.StatusCompleted)
		f.waitJob(t, forced.JobID, models.JobSucceeded)
		if got.Progress != 100 || got.VideoPath == nil {
			t.Errorf("unexpected completed track %+v", got)
		}
	})

	t.Run("retrying a failed batch reprocesses its tracks", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.Err = errors.New("encoder crashed")
		f.run(t)
		track := f.create(t, "Song", models.StatusPending)

		res, err := f.engine.Bulk(ctx, models.ActionStart, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk start failed: %v", err)
		}
		f.waitTrack(t, track.ID, models.StatusFailed)
		tu.Eventually(t, 2*time.Second, func() bool {
			jobs, err := f.jobs.ByBatch(ctx, res.BatchID, models.JobFailed)
			return err == nil && len(jobs) == 1
		}, "expected the job failed")

		f.renderer.Err = nil
		n, err := f.dispatcher.RetryBatchFailed(ctx, res.BatchID)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 requeued job, got %d %v", n, err)
		}

		got := f.waitTrack(t, track.ID, models.StatusCompleted)
		if got.ErrorMessage != nil || got.VideoPath == nil {
			t.Errorf("unexpected completed track %+v", got)
		}
		tu.Eventually(t, 2*time.Second, func() bool {
			jobs, err := f.jobs.ByBatch(ctx, res.BatchID, models.JobSucceeded)
			return err == nil && len(jobs) == 1
		}, "expected the requeued job to succeed")
		if len(f.renderer.Requests()) != 2 {
			t.Errorf("expected 2 renders, got %d", len(f.renderer.Requests()))
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		f := newFixture(t)
		err := f.processor.Handle(ctx, &models.Job{Type: models.JobProcessTrack, Payload: json.RawMessage(`{`)})
		if !queue.IsPermanent(err) || !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected permanent invalid input, got %v", err)
		}
	})

	t.Run("ignores tracks that are not pending", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusStopped)
		payload, _ := json.Marshal(TrackPayload{TrackID: track.ID})

		if err := f.processor.Handle(ctx, &models.Job{Type: models.JobProcessTrack, Payload: payload, MaxAttempts: 1}); err != nil {
			t.Errorf("expected stopped track to be skipped, got %v", err)
		}
		if f.downloader.Calls() != 0 {
			t.Error("expected no downloads")
		}
	})
}

func TestUploader(t *testing.T) {
	ctx := context.Background()

	completed := func(t *testing.T, f *fixture) *models.Track {
		t.Helper()
		genre, err := f.genres.FirstOrCreate(ctx, "lofi")
		if err != nil {
			t.Fatalf("failed to create genre: %v", err)
		}
		track := &models.Track{Title: "Song", Artist: "Artist", Status: models.StatusCompleted, Progress: 100, GenreID: &genre.ID}
		if err := f.tracks.Create(ctx, track); err != nil {
			t.Fatalf("failed to create track: %v", err)
		}
		video := f.saveMedia(t, media.KindVideo, track.ID, ".mp4")
		track.VideoPath = &video
		if err := f.tracks.Update(ctx, track); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}
		return track
	}

	t.Run("uploads and records the video id", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		track := completed(t, f)

		res, err := f.engine.Upload(ctx, track.ID)
		if err != nil {
			t.Fatalf("failed to upload: %v", err)
		}
		f.waitJob(t, res.JobID, models.JobSucceeded)

		got := f.get(t, track.ID)
		if got.YouTubeVideoID == nil || *got.YouTubeVideoID != "yt-123" {
			t.Fatalf("expected video id yt-123, got %v", got.YouTubeVideoID)
		}

		videos := f.uploader.Videos()
		if len(videos) != 1 {
			t.Fatalf("expected 1 upload, got %d", len(videos))
		}
		if videos[0].Title != "Artist - Song" || !slices.Contains(videos[0].Tags, "lofi") {
			t.Errorf("unexpected video metadata %+v", videos[0])
		}

		if _, err := f.engine.Upload(ctx, track.ID); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected second upload to be rejected, got %v", err)
		}
	})

	t.Run("rejects tracks that are not completed", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Song", models.StatusPending)

		var te *lifecycle.TransitionError
		_, err := f.engine.Upload(ctx, track.ID)
		if !errors.As(err, &te) || te.Reason != ReasonNotCompleted {
			t.Errorf("expected not completed rejection, got %v", err)
		}
	})

	t.Run("bulk upload skips tracks without video", func(t *testing.T) {
		f := newFixture(t)
		ready := completed(t, f)
		bare := f.create(t, "Bare", models.StatusCompleted)

		res, err := f.engine.Bulk(ctx, models.ActionUpload, models.BulkFilter{})
		if err != nil {
			t.Fatalf("bulk upload failed: %v", err)
		}
		if got := bulkIDs(res.Processed); !slices.Equal(got, []int64{ready.ID}) {
			t.Errorf("expected processed %v, got %v", []int64{ready.ID}, got)
		}
		want := []models.SkippedItem{{ID: bare.ID, Reason: ReasonNoVideo}}
		if !slices.Equal(res.Skipped, want) {
			t.Errorf("expected skipped %v, got %v", want, res.Skipped)
		}
		if f.broker.Len(shared.QueueUploads) != 1 {
			t.Errorf("expected 1 upload job, got %d", f.broker.Len(shared.QueueUploads))
		}
	})

	t.Run("without credentials", func(t *testing.T) {
		f := newFixture(t)
		track := completed(t, f)
		u := NewUploader(f.tracks, f.genres, nil, f.files, UploaderOptions{Logger: log.New(io.Discard)})
		payload, _ := json.Marshal(TrackPayload{TrackID: track.ID})

		err := u.Handle(ctx, &models.Job{Type: models.JobUploadTrack, Payload: payload})
		if !queue.IsPermanent(err) || !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected permanent ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestImporter(t *testing.T) {
	ctx := context.Background()

	wait := func(t *testing.T, f *fixture, session string) models.ProgressRecord {
		t.Helper()
		var rec models.ProgressRecord
		tu.Eventually(t, 2*time.Second, func() bool {
			var err error
			rec, err = f.engine.ImportProgress(ctx, session)
			return err == nil && rec.Terminal()
		}, "import %s did not finish", session)
		return rec
	}

	t.Run("inline items", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)

		session, err := f.engine.BeginImport(ctx, models.ImportRequest{
			Genre: "lofi",
			Items: []models.ImportItem{
				{Title: "One", SourceID: "one"},
				{Title: " "},
				{Title: "Three", Genre: "ambient"},
			},
		})
		if err != nil {
			t.Fatalf("failed to begin import: %v", err)
		}

		rec := wait(t, f, session.SessionID)
		if rec.Status != models.ProgressCompleted || rec.Imported != 2 || rec.Failed != 1 || rec.Total != 3 {
			t.Errorf("unexpected progress %+v", rec)
		}
		if rec.Progress != 100 || rec.Message != "Imported 2 tracks, 1 failed" {
			t.Errorf("unexpected final message %q (%d%%)", rec.Message, rec.Progress)
		}

		genres, err := f.engine.Genres(ctx)
		if err != nil {
			t.Fatalf("failed to list genres: %v", err)
		}
		if len(genres) != 2 {
			t.Errorf("expected 2 genres, got %d", len(genres))
		}

		tracks, err := f.engine.List(ctx, models.TrackQuery{})
		if err != nil {
			t.Fatalf("failed to list tracks: %v", err)
		}
		if len(tracks) != 2 || tracks[0].Status != models.StatusPending {
			t.Errorf("expected 2 pending tracks, got %d", len(tracks))
		}
	})

	t.Run("known source ids are not duplicated", func(t *testing.T) {
		f := newFixture(t)
		f.run(t)
		req := models.ImportRequest{Items: []models.ImportItem{{Title: "One", SourceID: "one"}}}

		for range 2 {
			session, err := f.engine.BeginImport(ctx, req)
			if err != nil {
				t.Fatalf("failed to begin import: %v", err)
			}
			if rec := wait(t, f, session.SessionID); rec.Imported != 1 {
				t.Errorf("expected the item counted as imported, got %+v", rec)
			}
		}

		if n, _ := f.tracks.Count(ctx, models.TrackQuery{}); n != 1 {
			t.Errorf("expected 1 track, got %d", n)
		}
	})

	t.Run("feed", func(t *testing.T) {
		f := newFixture(t)
		f.feed.Items = []models.ImportItem{
			{Title: "A", SourceID: "a", AudioURL: audioURL, ImageURL: imageURL},
			{Title: "B", SourceID: "b", AudioURL: audioURL, ImageURL: imageURL},
		}
		f.run(t)

		session, err := f.engine.BeginImport(ctx, models.ImportRequest{FeedURL: "https://feeds.example.com/new.json"})
		if err != nil {
			t.Fatalf("failed to begin import: %v", err)
		}
		rec := wait(t, f, session.SessionID)
		if rec.Status != models.ProgressCompleted || rec.Imported != 2 || rec.Total != 2 {
			t.Errorf("unexpected progress %+v", rec)
		}

		track, err := f.tracks.GetBySource(ctx, models.SourceFeed, "b")
		if err != nil {
			t.Fatalf("expected feed track: %v", err)
		}
		if track.AudioURL != audioURL {
			t.Errorf("unexpected audio url %q", track.AudioURL)
		}
	})

	t.Run("unreadable feed fails the session", func(t *testing.T) {
		f := newFixture(t)
		f.feed.Err = fmt.Errorf("%w: feed returned 500", shared.ErrAPIRequest)
		f.run(t)

		session, err := f.engine.BeginImport(ctx, models.ImportRequest{FeedURL: "https://feeds.example.com/broken.json"})
		if err != nil {
			t.Fatalf("failed to begin import: %v", err)
		}
		rec := wait(t, f, session.SessionID)
		if rec.Status != models.ProgressFailed || rec.Error == nil || !strings.Contains(*rec.Error, "500") {
			t.Errorf("unexpected progress %+v", rec)
		}
		f.waitJob(t, session.JobID, models.JobFailed)
	})

	t.Run("suno ids keep their order", func(t *testing.T) {
		f := newFixture(t)
		for _, id := range []string{"s1", "s2", "s3"} {
			f.songs.Songs[id] = &services.SunoSong{ID: id, Title: "Song " + id, Status: "complete", AudioURL: audioURL}
		}
		f.run(t)

		session, err := f.engine.BeginImport(ctx, models.ImportRequest{SunoIDs: []string{"s1", "missing", "s2", "s3"}})
		if err != nil {
			t.Fatalf("failed to begin import: %v", err)
		}
		rec := wait(t, f, session.SessionID)
		if rec.Imported != 3 || rec.Failed != 1 {
			t.Errorf("unexpected progress %+v", rec)
		}

		tracks, err := f.engine.List(ctx, models.TrackQuery{})
		if err != nil {
			t.Fatalf("failed to list tracks: %v", err)
		}
		var ids []string
		for _, track := range tracks {
			ids = append(ids, track.SourceID)
		}
		if !slices.Equal(ids, []string{"s1", "s2", "s3"}) {
			t.Errorf("expected tracks in request order, got %v", ids)
		}
	})

	t.Run("validation and lookups", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.BeginImport(ctx, models.ImportRequest{})
		var v *models.ValidationError
		if !errors.As(err, &v) {
			t.Errorf("expected validation error, got %v", err)
		}
		if _, err := f.engine.ImportProgress(ctx, "nope"); !errors.Is(err, shared.ErrProgressNotFound) {
			t.Errorf("expected ErrProgressNotFound, got %v", err)
		}
	})

	t.Run("dispatch failure marks the session failed", func(t *testing.T) {
		f := newFixture(t)
		f.broker.Fail(errors.New("broker down"))

		_, err := f.engine.BeginImport(ctx, models.ImportRequest{Items: []models.ImportItem{{Title: "One"}}})
		if !errors.Is(err, shared.ErrDispatch) {
			t.Fatalf("expected ErrDispatch, got %v", err)
		}
		if f.progress.Len() != 1 {
			t.Fatalf("expected the failed record to be kept, got %d records", f.progress.Len())
		}
	})
}

func TestReconciler(t *testing.T) {
	ctx := context.Background()

	t.Run("requeues orphaned pending tracks once", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.now = func() time.Time { return time.Now().Add(time.Hour) }

		f.create(t, "Never started", models.StatusPending)
		orphan := f.create(t, "Orphan", models.StatusFailed)
		if err := lifecycle.Retry(orphan, false); err != nil {
			t.Fatalf("failed to retry: %v", err)
		}
		if err := f.tracks.Update(ctx, orphan); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}

		res, err := f.reconciler.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if res.Requeued != 1 {
			t.Errorf("expected 1 requeued, got %d", res.Requeued)
		}

		res, err = f.reconciler.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if res.Requeued != 0 {
			t.Errorf("expected the queued job to be left alone, got %d requeued", res.Requeued)
		}
		if f.broker.Len(shared.QueueProcessing) != 1 {
			t.Errorf("expected 1 published job, got %d", f.broker.Len(shared.QueueProcessing))
		}
	})

	t.Run("leaves recent tracks alone", func(t *testing.T) {
		f := newFixture(t)
		track := f.create(t, "Fresh", models.StatusFailed)
		if err := lifecycle.Retry(track, false); err != nil {
			t.Fatalf("failed to retry: %v", err)
		}
		if err := f.tracks.Update(ctx, track); err != nil {
			t.Fatalf("failed to update track: %v", err)
		}

		res, err := f.reconciler.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if res.Requeued != 0 {
			t.Errorf("expected nothing requeued, got %d", res.Requeued)
		}
	})

	t.Run("purges expired progress", func(t *testing.T) {
		f := newFixture(t)
		if err := f.progress.Put(ctx, "old", models.ProgressRecord{Status: models.ProgressCompleted}, time.Minute); err != nil {
			t.Fatalf("failed to put record: %v", err)
		}
		f.clock.Advance(2 * time.Minute)

		res, err := f.reconciler.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if res.Purged != 1 || f.progress.Len() != 0 {
			t.Errorf("expected 1 purged, got %d (%d left)", res.Purged, f.progress.Len())
		}
	})
}

func TestHandleCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := f.create(t, "Pending", models.StatusPending)
	done := f.create(t, "Done", models.StatusCompleted)

	f.engine.HandleCancelled(ctx, &models.Job{Type: models.JobProcessTrack, TrackID: &pending.ID})
	f.engine.HandleCancelled(ctx, &models.Job{Type: models.JobProcessTrack, TrackID: &done.ID})
	f.engine.HandleCancelled(ctx, &models.Job{Type: models.JobUploadTrack, TrackID: &done.ID})

	if got := f.get(t, pending.ID); got.Status != models.StatusStopped {
		t.Errorf("expected pending track stopped, got %s", got.Status)
	}
	if got := f.get(t, done.ID); got.Status != models.StatusCompleted {
		t.Errorf("expected completed track untouched, got %s", got.Status)
	}
}

func TestHandleRequeued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	failed := f.create(t, "Failed", models.StatusFailed)
	stopped := f.create(t, "Stopped", models.StatusStopped)
	done := f.create(t, "Done", models.StatusCompleted)

	for _, track := range []*models.Track{failed, stopped, done} {
		f.engine.HandleRequeued(ctx, &models.Job{Type: models.JobProcessTrack, TrackID: &track.ID})
	}
	f.engine.HandleRequeued(ctx, &models.Job{Type: models.JobProcessTrack})

	for _, track := range []*models.Track{failed, stopped} {
		if got := f.get(t, track.ID); got.Status != models.StatusPending || got.ErrorMessage != nil {
			t.Errorf("expected %s back to pending, got %s %v", track.Title, got.Status, got.ErrorMessage)
		}
	}
	if got := f.get(t, done.ID); got.Status != models.StatusCompleted {
		t.Errorf("expected completed track untouched, got %s", got.Status)
	}
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, "Song", models.StatusPending)

	stale := *track
	if _, err := f.engine.Stop(ctx, track.ID); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}

	calls := 0
	got, err := mutate(ctx, f.tracks, &stale, func(t *models.Track) error {
		calls++
		t.Artist = "Renamed"
		return nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a re-read after the conflict, got %d calls", calls)
	}
	if got.Status != models.StatusStopped || got.Artist != "Renamed" {
		t.Errorf("expected the fresh track to be updated, got %s %q", got.Status, got.Artist)
	}
}

func TestSkipReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{"transition", &lifecycle.TransitionError{Action: "stop", Reason: lifecycle.ReasonNotStoppable}, lifecycle.ReasonNotStoppable, true},
		{"not found", fmt.Errorf("%w: 7", shared.ErrTrackNotFound), ReasonNotFound, true},
		{"conflict", shared.ErrConflict, "changed concurrently", true},
		{"dispatch", fmt.Errorf("%w: down", shared.ErrDispatch), "dispatch failed", true},
		{"database", errors.New("disk I/O error"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := skipReason(tt.err)
			if reason != tt.reason || ok != tt.ok {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.reason, tt.ok, reason, ok)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/a.MP3", ".mp3"},
		{"https://cdn.example.com/a.png?size=large", ".png"},
		{"https://cdn.example.com/a", ".jpg"},
		{"https://cdn.example.com/a.verylongext", ".jpg"},
	}
	for _, tt := range tests {
		if got := extension(tt.url, ".jpg"); got != tt.want {
			t.Errorf("extension(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
