package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/server"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
	"github.com/desertthunder/trackline/internal/tasks"
	tu "github.com/desertthunder/trackline/internal/testing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRunner serves a real API over an in-memory database. Jobs are enqueued but never run.
func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()

	db := tu.NewTestDB(t)
	logger := log.New(io.Discard)
	dispatcher := queue.NewDispatcher(tu.NewFailingBroker(), repositories.NewJobRepository(db),
		repositories.NewBatchRepository(db), repositories.NewQueueRepository(db), queue.Options{
			Workers:     map[string]int{shared.QueueProcessing: 1, shared.QueueUploads: 1, shared.QueueImports: 1},
			MaxAttempts: 1,
			Logger:      logger,
		})
	engine := tasks.NewEngine(repositories.NewTrackRepository(db), repositories.NewGenreRepository(db),
		dispatcher, progress.NewMemoryStore(), media.NewStore(afero.NewMemMapFs()), tasks.EngineOptions{Logger: logger})

	srv := httptest.NewServer(server.New(engine, dispatcher, server.Options{Logger: logger}))
	t.Cleanup(srv.Close)

	output := &bytes.Buffer{}
	return NewRunner(RunnerOpts{
		Config: shared.DefaultConfig(),
		API:    services.NewAPIClient(srv.URL),
		Logger: logger,
		Output: output,
	}), output
}

func run(t *testing.T, r *Runner, out *bytes.Buffer, args ...string) (string, error) {
	t.Helper()
	out.Reset()
	err := r.command().Run(context.Background(), append([]string{"trackline"}, args...))
	return out.String(), err
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			api := services.NewAPIClient("http://localhost:8080")

			runner := NewRunner(RunnerOpts{Config: config, Logger: logger, Output: output, API: api})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.api != api {
				t.Error("expected api to be set")
			}
		})

		t.Run("with nil logger and output uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output == nil {
				t.Error("expected default output to be set")
			}
			if runner.config != nil {
				t.Error("expected config to be resolved lazily")
			}
		})
	})

	t.Run("before resolves config and api", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{ConfigPath: "missing.toml", Output: io.Discard})
		err := runner.command().Run(context.Background(), []string{"trackline", "--server", "http://example.test:9000"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if runner.config == nil {
			t.Fatal("expected default config")
		}
		if got := runner.api.BaseURL(); got != "http://example.test:9000" {
			t.Errorf("expected server flag to win, got %s", got)
		}
	})
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []int64
		wantErr bool
	}{
		{name: "separate args", args: []string{"1", "2"}, want: []int64{1, 2}},
		{name: "comma separated", args: []string{"3,4", " 5 "}, want: []int64{3, 4, 5}},
		{name: "empty parts skipped", args: []string{"1,,2,"}, want: []int64{1, 2}},
		{name: "none", args: nil, want: nil},
		{name: "not a number", args: []string{"abc"}, wantErr: true},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "negative", args: []string{"-3"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIDs(tt.args)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses([]string{"pending,failed", "stopped"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []models.Status{models.StatusPending, models.StatusFailed, models.StatusStopped}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}

	if _, err := parseStatuses([]string{"done"}); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		if got := describe(errors.New("boom")); got != "boom" {
			t.Errorf("expected boom, got %q", got)
		}
	})

	t.Run("api error with fields", func(t *testing.T) {
		err := &services.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Message:    "validation failed",
			Fields:     map[string]string{"title": "is required"},
		}
		got := describe(err)
		if !strings.Contains(got, "validation failed") || !strings.Contains(got, "title: is required") {
			t.Errorf("expected message and field, got %q", got)
		}
	})
}

func TestCommands(t *testing.T) {
	r, out := newTestRunner(t)

	t.Run("tracks add", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "add", "--title", "Night Drive", "--artist", "Nova", "--genre", "Synthwave")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "✓ Track 1 created: Night Drive (pending)") {
			t.Errorf("unexpected output: %q", got)
		}
		if _, err := run(t, r, out, "tracks", "add", "--title", "Second"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("tracks add without title fails", func(t *testing.T) {
		if _, err := run(t, r, out, "tracks", "add", "--artist", "Nova"); err == nil {
			t.Fatal("expected missing flag error")
		}
	})

	t.Run("tracks list csv", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "list", "--format", "csv")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(got), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 rows, got %q", got)
		}
		if !strings.Contains(got, "Night Drive") || !strings.Contains(got, "Second") {
			t.Errorf("expected both tracks, got %q", got)
		}
	})

	t.Run("tracks start", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "start", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "✓ Track 1 queued: pending (0%) job ") {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("tracks stop", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "stop", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "stopped: stopped") {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("tracks retry rejects stopped track", func(t *testing.T) {
		_, err := run(t, r, out, "tracks", "retry", "1")
		var apiErr *services.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 api error, got %v", err)
		}
	})

	t.Run("tracks start unknown track", func(t *testing.T) {
		_, err := run(t, r, out, "tracks", "start", "999")
		var apiErr *services.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 api error, got %v", err)
		}
	})

	t.Run("tracks status", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "status", "--format", "csv", "1,2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(got), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 rows, got %q", got)
		}
		if !strings.HasPrefix(lines[1], "1,Night Drive,stopped") || !strings.HasPrefix(lines[2], "2,Second,pending") {
			t.Errorf("unexpected rows: %q", lines[1:])
		}
	})

	t.Run("tracks status without ids", func(t *testing.T) {
		if _, err := run(t, r, out, "tracks", "status"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Fatalf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("tracks bulk", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "bulk", "--status", "stopped,pending", "start")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "start: 2 processed, 0 skipped (batch ") {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("tracks bulk unknown action", func(t *testing.T) {
		if _, err := run(t, r, out, "tracks", "bulk", "frobnicate"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("tracks bulk upload skips tracks without video", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "bulk", "--ids", "1,2", "--format", "csv", "upload")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(got, "skipped") != 2 {
			t.Errorf("expected both tracks skipped, got %q", got)
		}
	})

	t.Run("genres", func(t *testing.T) {
		if _, err := run(t, r, out, "genres", "add", "Lo-fi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := run(t, r, out, "genres", "list")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "Synthwave") || !strings.Contains(got, "Lo-fi") {
			t.Errorf("expected both genres, got %q", got)
		}
	})

	t.Run("tracks delete", func(t *testing.T) {
		got, err := run(t, r, out, "tracks", "delete", "2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "✓ Track 2 deleted\n" {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("import suno", func(t *testing.T) {
		got, err := run(t, r, out, "import", "suno", "abc", "def")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "✓ Import queued: session ") {
			t.Fatalf("unexpected output: %q", got)
		}
		session := strings.Fields(strings.TrimPrefix(got, "✓ Import queued: session "))[0]

		got, err = run(t, r, out, "import", "progress", session)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "starting") {
			t.Errorf("expected a starting record, got %q", got)
		}
	})

	t.Run("import progress unknown session", func(t *testing.T) {
		_, err := run(t, r, out, "import", "progress", "nope")
		var apiErr *services.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 api error, got %v", err)
		}
	})

	t.Run("queue pause and stats", func(t *testing.T) {
		if _, err := run(t, r, out, "queue", "pause", shared.QueueUploads); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := run(t, r, out, "queue", "stats", "--format", "csv", shared.QueueUploads)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "uploads,true") {
			t.Errorf("expected paused uploads queue, got %q", got)
		}
		if _, err := run(t, r, out, "queue", "resume", shared.QueueUploads); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("queue failed and clear", func(t *testing.T) {
		got, err := run(t, r, out, "queue", "failed", "--format", "csv")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.TrimSpace(got) != "ID,Queue,Type,Track,Attempts,Error" {
			t.Errorf("expected only the header, got %q", got)
		}
		got, err = run(t, r, out, "queue", "clear")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "✓ 0 jobs cleared\n" {
			t.Errorf("unexpected output: %q", got)
		}
	})

	t.Run("batch show unknown", func(t *testing.T) {
		_, err := run(t, r, out, "batch", "show", "missing")
		var apiErr *services.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 api error, got %v", err)
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		if _, err := run(t, r, out, "tracks", "list", "--format", "xml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSetupCommands(t *testing.T) {
	dir := t.TempDir()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(dir, "trackline.db")
	out := &bytes.Buffer{}
	r := NewRunner(RunnerOpts{Config: config, Logger: log.New(io.Discard), Output: out})

	t.Run("config", func(t *testing.T) {
		path := filepath.Join(dir, "config.toml")
		got, err := run(t, r, out, "setup", "config", "--path", path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "✓ Config written to "+path) {
			t.Errorf("unexpected output: %q", got)
		}
		if _, err := shared.LoadConfig(path); err != nil {
			t.Errorf("written config does not load: %v", err)
		}
	})

	t.Run("database", func(t *testing.T) {
		got, err := run(t, r, out, "setup", "database")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "✓ Database ready") {
			t.Errorf("unexpected output: %q", got)
		}

		got, err = run(t, r, out, "setup", "database", "--status")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(got, "✗") || !strings.Contains(got, "✓ 0001") {
			t.Errorf("expected every migration applied, got %q", got)
		}
	})
}
