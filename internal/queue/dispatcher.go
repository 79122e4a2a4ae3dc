// package queue dispatches jobs to named queues and runs the worker pools that drain them.
//
// Every job is persisted before it is published, so the job table is the record of what was
// enqueued, what ran and what failed. Cancellation is cooperative: handlers observe their context.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// Handler executes one job. A returned error fails the attempt.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error { return f(ctx, job) }

// JobStore persists jobs. Implemented by repositories.JobRepository.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Claim(ctx context.Context, id string) (bool, error)
	SetStatus(ctx context.Context, id string, status models.JobStatus, msg string) error
	Requeue(ctx context.Context, ids []string) ([]*models.Job, error)
	DeleteFailed(ctx context.Context, ids []string) (int, error)
	CancelQueued(ctx context.Context, batchID string) (int, error)
	Failed(ctx context.Context, queue string) ([]*models.Job, error)
	ByBatch(ctx context.Context, batchID string, status models.JobStatus) ([]*models.Job, error)
	CountByBatch(ctx context.Context, batchID string) (models.JobCounts, error)
	CountByQueue(ctx context.Context, queue string) (models.JobCounts, error)
}

// BatchStore persists batches. Implemented by repositories.BatchRepository.
type BatchStore interface {
	Create(ctx context.Context, batch *models.Batch) error
	Get(ctx context.Context, id string) (*models.Batch, error)
	Cancel(ctx context.Context, id string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
}

// QueueStore persists paused flags. Implemented by repositories.QueueRepository.
type QueueStore interface {
	SetPaused(ctx context.Context, queue string, paused bool) error
	Paused(ctx context.Context) (map[string]bool, error)
}

// Options configures a [Dispatcher].
type Options struct {
	// Workers is the pool size per queue; only these queues accept jobs.
	Workers     map[string]int
	MaxAttempts int
	// JobTimeout bounds a single attempt; zero means no limit.
	JobTimeout time.Duration
	// PollInterval is how often idle and paused workers re-check the paused flag.
	PollInterval time.Duration
	Logger       *log.Logger
}

// EnqueueOption customizes a job before it is stored.
type EnqueueOption func(*models.Job)

// WithBatch attaches the job to a batch.
func WithBatch(batchID string) EnqueueOption {
	return func(j *models.Job) {
		if batchID != "" {
			j.BatchID = &batchID
		}
	}
}

// WithTrack records the track the job works on.
func WithTrack(trackID int64) EnqueueOption {
	return func(j *models.Job) { j.TrackID = &trackID }
}

// WithMaxAttempts overrides the configured attempt budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *models.Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with [Permanent].
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type runningJob struct {
	batchID string
	cancel  context.CancelCauseFunc
}

// Dispatcher enqueues jobs and runs their handlers.
type Dispatcher struct {
	broker  Broker
	jobs    JobStore
	batches BatchStore
	queues  QueueStore
	opts    Options
	logger  *log.Logger

	mu        sync.Mutex
	handlers  map[string]Handler
	running   map[string]runningJob
	onCancel  func(context.Context, *models.Job)
	onRequeue func(context.Context, *models.Job)
}

// NewDispatcher wires a dispatcher to its broker and stores.
func NewDispatcher(broker Broker, jobs JobStore, batches BatchStore, queues QueueStore, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Workers == nil {
		opts.Workers = map[string]int{shared.QueueProcessing: 1, shared.QueueUploads: 1, shared.QueueImports: 1}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Dispatcher{
		broker:   broker,
		jobs:     jobs,
		batches:  batches,
		queues:   queues,
		opts:     opts,
		logger:   shared.WithLogger(logger, "component", "dispatcher"),
		handlers: make(map[string]Handler),
		running:  make(map[string]runningJob),
	}
}

// Register binds a handler to a job type.
func (d *Dispatcher) Register(jobType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = h
}

// OnCancel sets a hook called for every job the dispatcher marks cancelled before it ran.
func (d *Dispatcher) OnCancel(fn func(context.Context, *models.Job)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCancel = fn
}

// OnRequeue sets a hook called for every failed job before [Dispatcher.RetryFailed] publishes it again.
func (d *Dispatcher) OnRequeue(fn func(context.Context, *models.Job)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRequeue = fn
}

// Queues returns the configured queue names, sorted.
func (d *Dispatcher) Queues() []string {
	names := make([]string, 0, len(d.opts.Workers))
	for name := range d.opts.Workers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *Dispatcher) known(queue string) error {
	if _, ok := d.opts.Workers[queue]; !ok {
		return fmt.Errorf("%w: unknown queue %q", shared.ErrInvalidInput, queue)
	}
	return nil
}

// Enqueue stores a queued job and publishes it. It does not wait for the job to run.
//
// When the broker rejects the message the job row is marked failed and the error wraps [shared.ErrDispatch].
func (d *Dispatcher) Enqueue(ctx context.Context, queue, jobType string, payload any, opts ...EnqueueOption) (*models.Job, error) {
	if err := d.known(queue); err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode payload: %v", shared.ErrInvalidInput, err)
	}

	job := &models.Job{
		Queue:       queue,
		Type:        jobType,
		Payload:     data,
		Status:      models.JobQueued,
		MaxAttempts: d.opts.MaxAttempts,
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDispatch, err)
	}

	if err := d.publish(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

func (d *Dispatcher) publish(ctx context.Context, job *models.Job) error {
	env := Envelope{JobID: job.ID, Queue: job.Queue, Type: job.Type, Payload: job.Payload}
	if job.BatchID != nil {
		env.BatchID = *job.BatchID
	}

	if err := d.broker.Publish(ctx, env); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		if serr := d.jobs.SetStatus(context.WithoutCancel(ctx), job.ID, models.JobFailed, msg); serr != nil {
			d.logger.Error("failed to record dispatch failure", "job_id", job.ID, "err", serr)
		}
		job.Status = models.JobFailed
		job.Error = &msg
		return fmt.Errorf("%w: %v", shared.ErrDispatch, err)
	}
	return nil
}

// Pause stops workers of queue from taking new jobs. Queued and running jobs are kept.
func (d *Dispatcher) Pause(ctx context.Context, queue string) error {
	if err := d.known(queue); err != nil {
		return err
	}
	d.logger.Info("pausing queue", "queue", queue)
	return d.queues.SetPaused(ctx, queue, true)
}

// Resume lets workers of queue take jobs again.
func (d *Dispatcher) Resume(ctx context.Context, queue string) error {
	if err := d.known(queue); err != nil {
		return err
	}
	d.logger.Info("resuming queue", "queue", queue)
	return d.queues.SetPaused(ctx, queue, false)
}

// Paused reports whether queue is paused.
func (d *Dispatcher) Paused(ctx context.Context, queue string) (bool, error) {
	paused, err := d.queues.Paused(ctx)
	if err != nil {
		return false, err
	}
	return paused[queue], nil
}

// CreateBatch creates a batch whose jobs go to queue.
func (d *Dispatcher) CreateBatch(ctx context.Context, name, queue string) (*models.Batch, error) {
	if err := d.known(queue); err != nil {
		return nil, err
	}
	batch := &models.Batch{Name: name, Queue: queue}
	if err := d.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// CancelResult reports what a batch cancellation touched.
type CancelResult struct {
	BatchID string `json:"batch_id"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
}

// CancelBatch flags the batch, cancels its queued jobs and the contexts of its running ones.
//
// Running handlers decide for themselves how to stop.
func (d *Dispatcher) CancelBatch(ctx context.Context, batchID string) (*CancelResult, error) {
	if err := d.batches.Cancel(ctx, batchID); err != nil {
		return nil, err
	}

	queued, err := d.jobs.ByBatch(ctx, batchID, models.JobQueued)
	if err != nil {
		return nil, err
	}
	n, err := d.jobs.CancelQueued(ctx, batchID)
	if err != nil {
		return nil, err
	}

	res := &CancelResult{BatchID: batchID, Queued: n}

	d.mu.Lock()
	for _, r := range d.running {
		if r.batchID == batchID {
			r.cancel(shared.ErrBatchCancelled)
			res.Running++
		}
	}
	hook := d.onCancel
	d.mu.Unlock()

	if hook != nil {
		for _, job := range queued {
			hook(ctx, job)
		}
	}

	d.logger.Info("batch cancelled", "batch_id", batchID, "queued", res.Queued, "running", res.Running)
	return res, nil
}

// RetryFailed requeues the given failed jobs and returns how many were published again.
// Ids that are unknown or not failed are ignored.
func (d *Dispatcher) RetryFailed(ctx context.Context, ids []string) (int, error) {
	jobs, err := d.jobs.Requeue(ctx, ids)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	hook := d.onRequeue
	d.mu.Unlock()

	var (
		n    int
		errs []error
	)
	for _, job := range jobs {
		if hook != nil {
			hook(ctx, job)
		}
		if err := d.publish(ctx, job); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// RetryBatchFailed requeues every failed job of a batch.
func (d *Dispatcher) RetryBatchFailed(ctx context.Context, batchID string) (int, error) {
	batch, err := d.batches.Get(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if batch.Cancelled {
		return 0, fmt.Errorf("%w: batch %s is cancelled", shared.ErrInvalidState, batchID)
	}

	failed, err := d.jobs.ByBatch(ctx, batchID, models.JobFailed)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(failed))
	for i, job := range failed {
		ids[i] = job.ID
	}
	return d.RetryFailed(ctx, ids)
}

// ClearFailed deletes failed jobs. No ids clears every failed job.
func (d *Dispatcher) ClearFailed(ctx context.Context, ids []string) (int, error) {
	return d.jobs.DeleteFailed(ctx, ids)
}

// Failed lists failed jobs of queue, or of every queue when queue is empty.
func (d *Dispatcher) Failed(ctx context.Context, queue string) ([]*models.Job, error) {
	if queue != "" {
		if err := d.known(queue); err != nil {
			return nil, err
		}
	}
	return d.jobs.Failed(ctx, queue)
}

// BatchStats returns a batch with its job counts.
func (d *Dispatcher) BatchStats(ctx context.Context, batchID string) (*models.BatchStats, error) {
	batch, err := d.batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := d.jobs.CountByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	stats := &models.BatchStats{Batch: *batch, Jobs: counts}
	if counts.Total > 0 {
		stats.Progress = (counts.Processed + counts.Failed + counts.Cancelled) * 100 / counts.Total
	}
	return stats, nil
}

// QueueStats returns the job counts and paused flag of queue.
func (d *Dispatcher) QueueStats(ctx context.Context, queue string) (*models.QueueStats, error) {
	if err := d.known(queue); err != nil {
		return nil, err
	}
	counts, err := d.jobs.CountByQueue(ctx, queue)
	if err != nil {
		return nil, err
	}
	paused, err := d.Paused(ctx, queue)
	if err != nil {
		return nil, err
	}
	return &models.QueueStats{Name: queue, Paused: paused, JobCounts: counts}, nil
}
