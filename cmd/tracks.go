package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/trackline/internal/formatter"
	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
	"github.com/desertthunder/trackline/internal/ui"
)

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "status",
			Aliases: []string{"s"},
			Usage:   "Only tracks in these statuses (repeatable or comma separated)",
		},
		&cli.Int64Flag{
			Name:  "genre-id",
			Usage: "Only tracks of this genre",
		},
	}
}

// tracksCommand handles track operations against the API.
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tracks",
		Aliases: []string{"t"},
		Usage:   "List, process and publish tracks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tracks",
				Flags: append(filterFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of tracks to return",
						Value: 100,
					},
					formatFlag(),
				),
				Action: r.TracksList,
			},
			{
				Name:  "add",
				Usage: "Register a track",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Track title", Required: true},
					&cli.StringFlag{Name: "artist", Usage: "Artist name"},
					&cli.StringFlag{Name: "genre", Usage: "Genre name, created when missing"},
					&cli.StringFlag{Name: "source", Usage: "suno, feed or manual", Value: string(models.SourceManual)},
					&cli.StringFlag{Name: "source-id", Usage: "Song id at the source (required for suno)"},
					&cli.StringFlag{Name: "audio-url", Usage: "Audio file URL"},
					&cli.StringFlag{Name: "image-url", Usage: "Cover image URL"},
					&cli.BoolFlag{Name: "start", Usage: "Queue the track for processing right away"},
				},
				Action: r.TracksAdd,
			},
			{
				Name:      "start",
				Usage:     "Queue a track for processing",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Restart a processing track and download its media again",
					},
				},
				Action: r.TracksStart,
			},
			{
				Name:      "stop",
				Usage:     "Stop a pending or processing track",
				ArgsUsage: "<id>",
				Action:    r.TracksStop,
			},
			{
				Name:      "retry",
				Usage:     "Queue a failed track again",
				ArgsUsage: "<id>",
				Action:    r.TracksRetry,
			},
			{
				Name:      "delete",
				Usage:     "Delete a track and its media",
				ArgsUsage: "<id>",
				Action:    r.TracksDelete,
			},
			{
				Name:      "upload",
				Usage:     "Upload the video of a completed track to YouTube",
				ArgsUsage: "<id>",
				Action:    r.TracksUpload,
			},
			{
				Name:      "status",
				Usage:     "Show the status and progress of one or more tracks",
				ArgsUsage: "<id>...",
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.TracksStatus,
			},
			{
				Name:      "bulk",
				Usage:     "Apply start, stop, retry, delete or upload to many tracks",
				ArgsUsage: "<action>",
				Flags: append(filterFlags(),
					&cli.StringSliceFlag{
						Name:  "ids",
						Usage: "Track ids (repeatable or comma separated)",
					},
					formatFlag(),
				),
				Action: r.TracksBulk,
			},
			{
				Name:  "watch",
				Usage: "Live track board with start, stop and retry keys",
				Flags: append(filterFlags(),
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Refresh interval",
						Value: ui.DefaultInterval,
					},
				),
				Action: r.TracksWatch,
			},
		},
	}
}

// genresCommand handles genre operations against the API.
func genresCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "genres",
		Usage: "List and create genres",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List genres",
				Action: r.GenresList,
			},
			{
				Name:      "add",
				Usage:     "Create a genre",
				ArgsUsage: "<name>",
				Action:    r.GenresAdd,
			},
		},
	}
}

func filterFrom(cmd *cli.Command) (models.BulkFilter, error) {
	statuses, err := parseStatuses(cmd.StringSlice("status"))
	if err != nil {
		return models.BulkFilter{}, err
	}
	return models.BulkFilter{Statuses: statuses, GenreID: optionalID(cmd, "genre-id")}, nil
}

// TracksList prints tracks matching the filter flags.
func (r *Runner) TracksList(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	filter, err := filterFrom(cmd)
	if err != nil {
		return err
	}

	tracks, err := r.api.ListTracks(ctx, filter.Statuses, filter.GenreID, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return formatter.Tracks(r.output, format, tracks)
}

// TracksAdd registers a track.
func (r *Runner) TracksAdd(ctx context.Context, cmd *cli.Command) error {
	req := models.CreateTrackRequest{
		Title:       cmd.String("title"),
		Artist:      cmd.String("artist"),
		Genre:       cmd.String("genre"),
		Source:      models.Source(cmd.String("source")),
		SourceID:    cmd.String("source-id"),
		AudioURL:    cmd.String("audio-url"),
		ImageURL:    cmd.String("image-url"),
		AutoProcess: cmd.Bool("start"),
	}
	track, err := r.api.CreateTrack(ctx, req)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Track %d created: %s (%s)\n", track.ID, track.Title, track.Status)
}

// TracksStart queues one track.
func (r *Runner) TracksStart(ctx context.Context, cmd *cli.Command) error {
	id, err := trackID(cmd)
	if err != nil {
		return err
	}
	res, err := r.api.StartTrack(ctx, id, cmd.Bool("force"))
	if err != nil {
		return err
	}
	return r.writeAction("queued", res)
}

// TracksStop stops one track.
func (r *Runner) TracksStop(ctx context.Context, cmd *cli.Command) error {
	id, err := trackID(cmd)
	if err != nil {
		return err
	}
	res, err := r.api.StopTrack(ctx, id)
	if err != nil {
		return err
	}
	return r.writeAction("stopped", res)
}

// TracksRetry queues one failed track again.
func (r *Runner) TracksRetry(ctx context.Context, cmd *cli.Command) error {
	id, err := trackID(cmd)
	if err != nil {
		return err
	}
	res, err := r.api.RetryTrack(ctx, id)
	if err != nil {
		return err
	}
	return r.writeAction("queued for retry", res)
}

// TracksDelete deletes one track.
func (r *Runner) TracksDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := trackID(cmd)
	if err != nil {
		return err
	}
	if err := r.api.DeleteTrack(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Track %d deleted\n", id)
}

// TracksUpload queues the upload of one completed track.
func (r *Runner) TracksUpload(ctx context.Context, cmd *cli.Command) error {
	id, err := trackID(cmd)
	if err != nil {
		return err
	}
	res, err := r.api.UploadTrack(ctx, id)
	if err != nil {
		return err
	}
	return r.writeAction("queued for upload", res)
}

// TracksStatus prints status snapshots in the order the ids were given.
func (r *Runner) TracksStatus(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return err
	}

	var snaps []models.Snapshot
	switch len(ids) {
	case 0:
		return fmt.Errorf("%w: at least one track id is required", shared.ErrMissingArgument)
	case 1:
		snap, err := r.api.TrackStatus(ctx, ids[0])
		if err != nil {
			return err
		}
		snaps = []models.Snapshot{*snap}
	default:
		if snaps, err = r.api.StatusBulk(ctx, ids); err != nil {
			return err
		}
	}
	return formatter.Snapshots(r.output, format, snaps)
}

// TracksBulk applies an action to the tracks selected by --ids, --status and --genre-id.
func (r *Runner) TracksBulk(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("%w: expected one action (start, stop, retry, delete, upload)", shared.ErrMissingArgument)
	}
	filter, err := filterFrom(cmd)
	if err != nil {
		return err
	}
	if filter.TrackIDs, err = parseIDs(cmd.StringSlice("ids")); err != nil {
		return err
	}

	var res *models.BulkResult
	name := cmd.Args().First()
	if name == "upload" {
		res, err = r.api.BulkUpload(ctx, filter)
	} else {
		action, ok := models.ParseAction(name)
		if !ok {
			return fmt.Errorf("%w: unknown action %q", shared.ErrInvalidArgument, name)
		}
		res, err = r.api.Bulk(ctx, action, filter)
	}
	if err != nil {
		return err
	}
	return formatter.Bulk(r.output, format, res)
}

// TracksWatch runs the interactive track board.
func (r *Runner) TracksWatch(ctx context.Context, cmd *cli.Command) error {
	filter, err := filterFrom(cmd)
	if err != nil {
		return err
	}
	board := ui.NewBoard(ctx, r.api, filter.Statuses, cmd.Duration("interval"))
	if _, err := ui.Run(ctx, board); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// GenresList prints every genre.
func (r *Runner) GenresList(ctx context.Context, cmd *cli.Command) error {
	genres, err := r.api.Genres(ctx)
	if err != nil {
		return err
	}
	for _, g := range genres {
		if err := r.writePlain("%d\t%s\n", g.ID, g.Name); err != nil {
			return err
		}
	}
	return nil
}

// GenresAdd creates a genre.
func (r *Runner) GenresAdd(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("%w: genre name is required", shared.ErrMissingArgument)
	}
	genre, err := r.api.CreateGenre(ctx, name)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Genre %d created: %s\n", genre.ID, genre.Name)
}
