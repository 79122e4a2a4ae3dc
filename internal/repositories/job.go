package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

const jobColumns = `id, queue, type, payload, batch_id, track_id, status, attempts, max_attempts, error, created_at, updated_at`

// JobRepository persists [models.Job] rows.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts job as queued. An empty ID is generated.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if len(job.Payload) == 0 {
		job.Payload = []byte("{}")
	}
	ts := now()
	job.CreatedAt, job.UpdatedAt = ts, ts

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Queue, job.Type, string(job.Payload), nullString(job.BatchID), nullInt64(job.TrackID),
		job.Status, job.Attempts, job.MaxAttempts, nullString(job.Error), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return job, err
}

// Claim moves a queued job to running and counts the attempt.
//
// It returns false when the job is no longer queued, e.g. it was cancelled or cleared.
func (r *JobRepository) Claim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.JobRunning, now(), id, models.JobQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// SetStatus records the outcome of a job. msg is stored as the job error when not empty.
func (r *JobRepository) SetStatus(ctx context.Context, id string, status models.JobStatus, msg string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(models.StringPtr(msg)), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return nil
}

// Requeue puts failed jobs back in the queued state with a fresh attempt budget.
// Only ids currently failed are touched; the requeued jobs are returned.
func (r *JobRepository) Requeue(ctx context.Context, ids []string) ([]*models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{models.JobQueued, now(), models.JobFailed}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = 0, error = NULL, updated_at = ?
		WHERE status = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue jobs: %w", err)
	}

	jobs, err := r.list(ctx, "id IN ("+placeholders(len(ids))+") AND status = ?", append(toAny(ids), models.JobQueued)...)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteFailed removes failed jobs. An empty ids slice removes every failed job.
func (r *JobRepository) DeleteFailed(ctx context.Context, ids []string) (int, error) {
	query := "DELETE FROM jobs WHERE status = ?"
	args := []any{models.JobFailed}
	if len(ids) > 0 {
		query += " AND id IN (" + placeholders(len(ids)) + ")"
		args = append(args, toAny(ids)...)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// CancelQueued marks every queued job of a batch as cancelled and returns how many changed.
func (r *JobRepository) CancelQueued(ctx context.Context, batchID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?
		WHERE batch_id = ? AND status = ?
	`, models.JobCancelled, shared.ErrBatchCancelled.Error(), now(), batchID, models.JobQueued)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// Failed lists failed jobs, newest first. An empty queue lists every queue.
func (r *JobRepository) Failed(ctx context.Context, queue string) ([]*models.Job, error) {
	if queue == "" {
		return r.list(ctx, "status = ? ORDER BY updated_at DESC", models.JobFailed)
	}
	return r.list(ctx, "status = ? AND queue = ? ORDER BY updated_at DESC", models.JobFailed, queue)
}

// ByBatch lists the jobs of a batch in the given status.
func (r *JobRepository) ByBatch(ctx context.Context, batchID string, status models.JobStatus) ([]*models.Job, error) {
	return r.list(ctx, "batch_id = ? AND status = ? ORDER BY created_at ASC", batchID, status)
}

// HasActive reports whether a queued or running job of jobType exists for the track.
func (r *JobRepository) HasActive(ctx context.Context, trackID int64, jobType string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM jobs WHERE track_id = ? AND type = ? AND status IN (?, ?))
	`, trackID, jobType, models.JobQueued, models.JobRunning).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check jobs: %w", err)
	}
	return exists, nil
}

// CountByBatch aggregates the jobs of a batch by status.
func (r *JobRepository) CountByBatch(ctx context.Context, batchID string) (models.JobCounts, error) {
	return r.count(ctx, "batch_id = ?", batchID)
}

// CountByQueue aggregates the jobs of a queue by status.
func (r *JobRepository) CountByQueue(ctx context.Context, queue string) (models.JobCounts, error) {
	return r.count(ctx, "queue = ?", queue)
}

func (r *JobRepository) count(ctx context.Context, where string, args ...any) (models.JobCounts, error) {
	var counts models.JobCounts
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs WHERE "+where+" GROUP BY status", args...)
	if err != nil {
		return counts, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status models.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan count: %w", err)
		}
		counts.Add(status, n)
	}
	return counts, rows.Err()
}

func (r *JobRepository) list(ctx context.Context, where string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

func scanJob(s scanner) (*models.Job, error) {
	var (
		j       models.Job
		payload string
		batchID sql.NullString
		trackID sql.NullInt64
		errMsg  sql.NullString
	)
	err := s.Scan(&j.ID, &j.Queue, &j.Type, &payload, &batchID, &trackID, &j.Status, &j.Attempts, &j.MaxAttempts,
		&errMsg, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Payload = []byte(payload)
	j.BatchID = stringPtr(batchID)
	j.TrackID = int64Ptr(trackID)
	j.Error = stringPtr(errMsg)
	return &j, nil
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
