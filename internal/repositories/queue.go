package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// QueueRepository stores the paused flag of each named queue.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new QueueRepository with the given database connection
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// SetPaused records whether queue is paused.
func (r *QueueRepository) SetPaused(ctx context.Context, queue string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queues (name, paused, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET paused = excluded.paused, updated_at = excluded.updated_at
	`, queue, paused, now())
	if err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

// Paused returns the paused flag of every queue that has one.
func (r *QueueRepository) Paused(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, paused FROM queues")
	if err != nil {
		return nil, fmt.Errorf("failed to query queues: %w", err)
	}
	defer rows.Close()

	paused := make(map[string]bool)
	for rows.Next() {
		var (
			name string
			p    bool
		)
		if err := rows.Scan(&name, &p); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		paused[name] = p
	}
	return paused, rows.Err()
}
