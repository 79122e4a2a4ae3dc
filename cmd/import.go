package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/trackline/internal/formatter"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
	"github.com/desertthunder/trackline/internal/ui"
)

func importFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "genre",
			Usage: "Genre assigned to every imported track",
		},
		&cli.BoolFlag{
			Name:  "start",
			Usage: "Queue imported tracks for processing",
		},
		&cli.BoolFlag{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "Follow the import progress until it finishes",
		},
	}
}

// importCommand starts imports and follows their progress.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import tracks from a feed, Suno or a local feed file",
		Commands: []*cli.Command{
			{
				Name:      "feed",
				Usage:     "Import every song of a remote JSON feed",
				ArgsUsage: "<url>",
				Flags:     importFlags(),
				Action:    r.ImportFeed,
			},
			{
				Name:      "suno",
				Usage:     "Import songs by Suno id",
				ArgsUsage: "<id>...",
				Flags:     importFlags(),
				Action:    r.ImportSuno,
			},
			{
				Name:      "file",
				Usage:     "Import the songs of a local feed file",
				ArgsUsage: "<path>",
				Flags:     importFlags(),
				Action:    r.ImportFile,
			},
			{
				Name:      "watch",
				Usage:     "Follow an import session with a progress bar",
				ArgsUsage: "<session>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Polling interval",
						Value: ui.DefaultInterval,
					},
				},
				Action: r.ImportWatch,
			},
			{
				Name:      "progress",
				Usage:     "Print the current progress of an import session",
				ArgsUsage: "<session>",
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.ImportProgress,
			},
		},
	}
}

// ImportFeed imports the songs listed at a feed URL.
func (r *Runner) ImportFeed(ctx context.Context, cmd *cli.Command) error {
	url := cmd.Args().First()
	if url == "" {
		return fmt.Errorf("%w: feed url is required", shared.ErrMissingArgument)
	}
	return r.beginImport(ctx, cmd, models.ImportRequest{FeedURL: url})
}

// ImportSuno imports songs by their Suno ids.
func (r *Runner) ImportSuno(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: at least one suno id is required", shared.ErrMissingArgument)
	}
	return r.beginImport(ctx, cmd, models.ImportRequest{SunoIDs: cmd.Args().Slice()})
}

// ImportFile parses a local feed file and imports its items.
func (r *Runner) ImportFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("%w: file path is required", shared.ErrMissingArgument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	items, err := services.ParseFeed(data)
	if err != nil {
		return err
	}
	r.logger.Debug("parsed feed file", "path", path, "items", len(items))
	return r.beginImport(ctx, cmd, models.ImportRequest{Items: items})
}

func (r *Runner) beginImport(ctx context.Context, cmd *cli.Command, req models.ImportRequest) error {
	req.Genre = cmd.String("genre")
	req.AutoProcess = cmd.Bool("start")

	session, err := r.api.Import(ctx, req)
	if err != nil {
		return err
	}
	if err := r.writePlain("✓ Import queued: session %s (job %s)\n", session.SessionID, session.JobID); err != nil {
		return err
	}
	if !cmd.Bool("watch") {
		return nil
	}
	return r.watch(ctx, session.SessionID, ui.DefaultInterval)
}

// ImportWatch follows a session until it reaches a terminal state.
func (r *Runner) ImportWatch(ctx context.Context, cmd *cli.Command) error {
	session := cmd.Args().First()
	if session == "" {
		return fmt.Errorf("%w: session id is required", shared.ErrMissingArgument)
	}
	return r.watch(ctx, session, cmd.Duration("interval"))
}

func (r *Runner) watch(ctx context.Context, session string, interval time.Duration) error {
	w := ui.NewWatcher(ctx, r.api, session, interval)
	if _, err := ui.Run(ctx, w); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if err := w.Err(); err != nil {
		return err
	}
	if rec := w.Record(); rec != nil && rec.Status == models.ProgressFailed {
		return fmt.Errorf("import failed: %s", rec.Message)
	}
	return nil
}

// ImportProgress prints one progress record.
func (r *Runner) ImportProgress(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	session := cmd.Args().First()
	if session == "" {
		return fmt.Errorf("%w: session id is required", shared.ErrMissingArgument)
	}
	rec, err := r.api.ImportProgress(ctx, session)
	if err != nil {
		return err
	}
	return formatter.Progress(r.output, format, rec)
}
