package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// BatchRepository persists [models.Batch] rows.
type BatchRepository struct {
	db *sql.DB
}

// NewBatchRepository creates a new BatchRepository with the given database connection
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts batch with a generated ID and sequence
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	sequence, err := NextSequence(ctx, r.db, "batches")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	batch.ID = shared.GenerateID()
	batch.Sequence = sequence
	batch.CreatedAt = now()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO batches (id, sequence, name, queue, cancelled, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, batch.ID, batch.Sequence, batch.Name, batch.Queue, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// Get retrieves a batch by ID
func (r *BatchRepository) Get(ctx context.Context, id string) (*models.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, sequence, name, queue, cancelled, created_at, cancelled_at
		FROM batches WHERE id = ?
	`, id)

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrBatchNotFound, id)
	}
	return batch, err
}

// Cancel flags a batch as cancelled. Cancelling twice keeps the first timestamp.
func (r *BatchRepository) Cancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE batches SET cancelled = 1, cancelled_at = COALESCE(cancelled_at, ?)
		WHERE id = ?
	`, now(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrBatchNotFound, id)
	}
	return nil
}

// IsCancelled reports whether the batch was cancelled. Unknown batches are not cancelled.
func (r *BatchRepository) IsCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := r.db.QueryRowContext(ctx, "SELECT cancelled FROM batches WHERE id = ?", id).Scan(&cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read batch: %w", err)
	}
	return cancelled, nil
}

// List returns the most recent batches, newest first.
func (r *BatchRepository) List(ctx context.Context, limit int) ([]*models.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence, name, queue, cancelled, created_at, cancelled_at
		FROM batches ORDER BY sequence DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanBatch(s scanner) (*models.Batch, error) {
	var (
		b           models.Batch
		cancelledAt sql.NullTime
	)
	err := s.Scan(&b.ID, &b.Sequence, &b.Name, &b.Queue, &b.Cancelled, &b.CreatedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	return &b, nil
}
