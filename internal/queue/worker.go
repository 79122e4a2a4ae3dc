package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// Run starts the worker pools and blocks until ctx is cancelled and every in-flight job has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, queue := range d.Queues() {
		for i := 0; i < d.opts.Workers[queue]; i++ {
			wg.Add(1)
			go d.worker(ctx, &wg, queue, i)
		}
	}

	d.logger.Info("workers started", "queues", d.Queues())
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("workers stopped")
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, wg *sync.WaitGroup, queue string, n int) {
	defer wg.Done()
	logger := shared.WithLogger(d.logger, "queue", queue, "worker", n)

	for ctx.Err() == nil {
		paused, err := d.Paused(ctx, queue)
		if err != nil {
			logger.Warn("failed to read paused flag", "err", err)
			sleep(ctx, d.opts.PollInterval)
			continue
		}
		if paused {
			sleep(ctx, d.opts.PollInterval)
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, d.opts.PollInterval)
		delivery, err := d.broker.Receive(rctx, queue)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, ErrBrokerClosed):
			logger.Debug("broker closed")
			return
		case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			logger.Warn("receive failed", "err", err)
			sleep(ctx, d.opts.PollInterval)
			continue
		}

		d.deliver(ctx, logger, delivery)
	}
}

// deliver runs one received message to completion. Shutdown does not interrupt it.
func (d *Dispatcher) deliver(ctx context.Context, logger *log.Logger, delivery Delivery) {
	ctx = context.WithoutCancel(ctx)
	logger = shared.WithLogger(logger, "job_id", delivery.JobID, "type", delivery.Type)
	defer func() {
		if err := delivery.Ack(ctx); err != nil {
			logger.Warn("ack failed", "err", err)
		}
	}()

	// a pause that landed while we were waiting still wins
	if paused, err := d.Paused(ctx, delivery.Queue); err == nil && paused {
		if err := d.broker.Publish(ctx, delivery.Envelope); err != nil {
			logger.Error("failed to hand back job from paused queue", "err", err)
		}
		return
	}

	claimed, err := d.jobs.Claim(ctx, delivery.JobID)
	if err != nil {
		logger.Error("failed to claim job", "err", err)
		return
	}
	if !claimed {
		logger.Debug("job no longer queued, skipping")
		return
	}

	job, err := d.jobs.Get(ctx, delivery.JobID)
	if err != nil {
		logger.Error("failed to load job", "err", err)
		return
	}

	if job.BatchID != nil {
		if cancelled, err := d.batches.IsCancelled(ctx, *job.BatchID); err == nil && cancelled {
			d.finish(ctx, logger, job, models.JobCancelled, shared.ErrBatchCancelled.Error())
			d.mu.Lock()
			hook := d.onCancel
			d.mu.Unlock()
			if hook != nil {
				hook(ctx, job)
			}
			return
		}
	}

	jctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx := jctx
	if d.opts.JobTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(jctx, d.opts.JobTimeout)
		defer stop()
	}

	d.track(job, cancel)
	started := time.Now()
	err = d.execute(runCtx, job)
	d.untrack(job.ID)

	elapsed := time.Since(started)
	switch {
	case err == nil:
		logger.Info("job succeeded", "attempt", job.Attempts, "elapsed", elapsed)
		d.finish(ctx, logger, job, models.JobSucceeded, "")
	case errors.Is(context.Cause(jctx), shared.ErrBatchCancelled), errors.Is(err, shared.ErrBatchCancelled):
		logger.Info("job cancelled with its batch", "elapsed", elapsed)
		d.finish(ctx, logger, job, models.JobCancelled, shared.ErrBatchCancelled.Error())
	default:
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			err = fmt.Errorf("%w after %s: %v", shared.ErrTimeout, d.opts.JobTimeout, err)
		}
		d.retryOrFail(ctx, logger, job, err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *models.Job) (err error) {
	d.mu.Lock()
	h, ok := d.handlers[job.Type]
	d.mu.Unlock()
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", shared.ErrUnknownJobType, job.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (d *Dispatcher) retryOrFail(ctx context.Context, logger *log.Logger, job *models.Job, cause error) {
	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		logger.Error("job failed", "attempt", job.Attempts, "err", cause)
		d.finish(ctx, logger, job, models.JobFailed, cause.Error())
		return
	}

	logger.Warn("job attempt failed, requeueing", "attempt", job.Attempts, "max_attempts", job.MaxAttempts, "err", cause)
	if err := d.jobs.SetStatus(ctx, job.ID, models.JobQueued, cause.Error()); err != nil {
		logger.Error("failed to requeue job", "err", err)
		return
	}
	if err := d.publish(ctx, job); err != nil {
		logger.Error("failed to republish job", "err", err)
	}
}

func (d *Dispatcher) finish(ctx context.Context, logger *log.Logger, job *models.Job, status models.JobStatus, msg string) {
	if err := d.jobs.SetStatus(ctx, job.ID, status, msg); err != nil {
		logger.Error("failed to record job outcome", "status", status, "err", err)
	}
}

func (d *Dispatcher) track(job *models.Job, cancel context.CancelCauseFunc) {
	var batchID string
	if job.BatchID != nil {
		batchID = *job.BatchID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[job.ID] = runningJob{batchID: batchID, cancel: cancel}
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, id)
}

// Running returns the number of jobs currently executing in this process.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
