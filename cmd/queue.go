package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/trackline/internal/formatter"
	"github.com/desertthunder/trackline/internal/shared"
)

func queueArg(cmd *cli.Command) (string, error) {
	name := cmd.Args().First()
	if name == "" {
		return "", fmt.Errorf("%w: queue name is required (%s, %s, %s)",
			shared.ErrMissingArgument, shared.QueueProcessing, shared.QueueUploads, shared.QueueImports)
	}
	return name, nil
}

// queueCommand inspects and controls the job queues.
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Inspect and control job queues",
		Commands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "Show job counts of a queue",
				ArgsUsage: "<queue>",
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.QueueStats,
			},
			{
				Name:      "pause",
				Usage:     "Stop workers from taking new jobs of a queue",
				ArgsUsage: "<queue>",
				Action:    r.QueuePause,
			},
			{
				Name:      "resume",
				Usage:     "Let workers take jobs of a queue again",
				ArgsUsage: "<queue>",
				Action:    r.QueueResume,
			},
			{
				Name:  "failed",
				Usage: "List failed jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "queue", Usage: "Only jobs of this queue"},
					formatFlag(),
				},
				Action: r.QueueFailed,
			},
			{
				Name:      "retry",
				Usage:     "Requeue failed jobs",
				ArgsUsage: "<job-id>...",
				Action:    r.QueueRetry,
			},
			{
				Name:      "clear",
				Usage:     "Delete failed jobs, all of them when no ids are given",
				ArgsUsage: "[job-id...]",
				Action:    r.QueueClear,
			},
		},
	}
}

// batchCommand inspects and controls job batches.
func batchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Inspect, cancel and retry job batches",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show the job counts and progress of a batch",
				ArgsUsage: "<batch-id>",
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.BatchShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel the queued jobs of a batch",
				ArgsUsage: "<batch-id>",
				Action:    r.BatchCancel,
			},
			{
				Name:      "retry",
				Usage:     "Requeue the failed jobs of a batch",
				ArgsUsage: "<batch-id>",
				Action:    r.BatchRetry,
			},
		},
	}
}

// QueueStats prints the counters of a queue.
func (r *Runner) QueueStats(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	name, err := queueArg(cmd)
	if err != nil {
		return err
	}
	stats, err := r.api.QueueStats(ctx, name)
	if err != nil {
		return err
	}
	return formatter.Queue(r.output, format, stats)
}

// QueuePause pauses a queue.
func (r *Runner) QueuePause(ctx context.Context, cmd *cli.Command) error {
	name, err := queueArg(cmd)
	if err != nil {
		return err
	}
	if err := r.api.PauseQueue(ctx, name); err != nil {
		return err
	}
	return r.writePlain("✓ Queue %s paused\n", name)
}

// QueueResume resumes a queue.
func (r *Runner) QueueResume(ctx context.Context, cmd *cli.Command) error {
	name, err := queueArg(cmd)
	if err != nil {
		return err
	}
	if err := r.api.ResumeQueue(ctx, name); err != nil {
		return err
	}
	return r.writePlain("✓ Queue %s resumed\n", name)
}

// QueueFailed lists failed jobs.
func (r *Runner) QueueFailed(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	jobs, err := r.api.FailedJobs(ctx, cmd.String("queue"))
	if err != nil {
		return err
	}
	return formatter.Jobs(r.output, format, jobs)
}

// QueueRetry requeues failed jobs by id.
func (r *Runner) QueueRetry(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("%w: at least one job id is required", shared.ErrMissingArgument)
	}
	n, err := r.api.RetryJobs(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}
	return r.writePlain("✓ %d jobs requeued\n", n)
}

// QueueClear deletes failed jobs.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	n, err := r.api.ClearJobs(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}
	return r.writePlain("✓ %d jobs cleared\n", n)
}

func batchArg(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("%w: batch id is required", shared.ErrMissingArgument)
	}
	return id, nil
}

// BatchShow prints a batch with its counters.
func (r *Runner) BatchShow(ctx context.Context, cmd *cli.Command) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	id, err := batchArg(cmd)
	if err != nil {
		return err
	}
	stats, err := r.api.Batch(ctx, id)
	if err != nil {
		return err
	}
	return formatter.Batch(r.output, format, stats)
}

// BatchCancel cancels a batch.
func (r *Runner) BatchCancel(ctx context.Context, cmd *cli.Command) error {
	id, err := batchArg(cmd)
	if err != nil {
		return err
	}
	if err := r.api.CancelBatch(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Batch %s cancelled\n", id)
}

// BatchRetry requeues the failed jobs of a batch.
func (r *Runner) BatchRetry(ctx context.Context, cmd *cli.Command) error {
	id, err := batchArg(cmd)
	if err != nil {
		return err
	}
	n, err := r.api.RetryBatch(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %d jobs in batch %s requeued\n", n, id)
}
