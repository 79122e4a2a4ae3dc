// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

// NewTestDB opens an in-memory SQLite database with migrations applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// FailingBroker is a [queue.MemoryBroker] whose Publish can be made to fail.
type FailingBroker struct {
	*queue.MemoryBroker
	mu  sync.Mutex
	err error
}

func NewFailingBroker() *FailingBroker {
	return &FailingBroker{MemoryBroker: queue.NewMemoryBroker()}
}

// Fail makes every following Publish return err. A nil err restores normal behaviour.
func (b *FailingBroker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *FailingBroker) Publish(ctx context.Context, env queue.Envelope) error {
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBroker.Publish(ctx, env)
}

// FakeSongSource serves Suno songs from a map.
type FakeSongSource struct {
	mu    sync.Mutex
	Songs map[string]*services.SunoSong
	Err   error
	calls int
}

func (f *FakeSongSource) GetSong(ctx context.Context, id string) (*services.SunoSong, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	song, ok := f.Songs[id]
	if !ok {
		return nil, fmt.Errorf("%w: suno song %s", shared.ErrTrackNotFound, id)
	}
	return song, nil
}

func (f *FakeSongSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeFeed returns fixed items for every feed url.
type FakeFeed struct {
	Items []models.ImportItem
	Err   error
}

func (f *FakeFeed) Fetch(ctx context.Context, url string) ([]models.ImportItem, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Items, nil
}

// FakeDownloader serves bodies by url. The first Flaky calls fail with a retryable error.
type FakeDownloader struct {
	mu     sync.Mutex
	Bodies map[string]string
	Flaky  int
	calls  int
}

func (f *FakeDownloader) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.calls++
	flaky := f.calls <= f.Flaky
	body, ok := f.Bodies[url]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if flaky {
		return 0, fmt.Errorf("%w: download returned 503", shared.ErrServiceUnavailable)
	}
	if !ok {
		return 0, fmt.Errorf("%w: download returned 404", shared.ErrAPIRequest)
	}
	n, err := io.Copy(w, strings.NewReader(body))
	return n, err
}

func (f *FakeDownloader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeRenderer writes a placeholder video into the store.
//
// When Gate is set, Render blocks until the gate is closed or ctx is done. Gates overrides Gate
// per call: the nth render waits on Gates[n].
type FakeRenderer struct {
	Store   *media.Store
	Err     error
	Gate    chan struct{}
	Gates   []chan struct{}
	Started chan struct{}

	mu   sync.Mutex
	reqs []media.RenderRequest
}

func (f *FakeRenderer) Render(ctx context.Context, req media.RenderRequest) error {
	f.mu.Lock()
	gate := f.Gate
	if n := len(f.reqs); n < len(f.Gates) {
		gate = f.Gates[n]
	}
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil {
		return f.Err
	}
	return f.Store.Write(req.OutputPath, strings.NewReader("video"))
}

func (f *FakeRenderer) Requests() []media.RenderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.RenderRequest(nil), f.reqs...)
}

// FakeUploader records uploaded videos and returns VideoID.
type FakeUploader struct {
	VideoID string
	Err     error

	mu     sync.Mutex
	videos []services.Video
}

func (f *FakeUploader) Upload(ctx context.Context, video services.Video, r io.Reader) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.videos = append(f.videos, video)
	f.mu.Unlock()
	return f.VideoID, nil
}

func (f *FakeUploader) Videos() []services.Video {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.Video(nil), f.videos...)
}

// Clock is a manually advanced clock for TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(msg, args...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
