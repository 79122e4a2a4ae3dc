package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// ProgressRepository stores progress records in SQLite so API and worker processes can share them.
type ProgressRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewProgressRepository creates a new ProgressRepository with the given database connection
func NewProgressRepository(db *sql.DB) *ProgressRepository {
	return &ProgressRepository{db: db, now: time.Now}
}

// WithClock replaces the clock used for expiry.
func (r *ProgressRepository) WithClock(now func() time.Time) *ProgressRepository {
	r.now = now
	return r
}

// Put replaces the record stored under key and resets its expiry.
func (r *ProgressRepository) Put(ctx context.Context, key string, rec models.ProgressRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO progress_records (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, key, string(data), r.now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store progress: %w", err)
	}
	return nil
}

// Get returns the live record under key or [shared.ErrProgressNotFound].
func (r *ProgressRepository) Get(ctx context.Context, key string) (models.ProgressRecord, error) {
	var (
		rec  models.ProgressRecord
		data string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM progress_records WHERE key = ? AND expires_at > ?
	`, key, r.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, shared.ErrProgressNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read progress: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode progress: %w", err)
	}
	return rec, nil
}

// Purge deletes expired records.
func (r *ProgressRepository) Purge(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM progress_records WHERE expires_at <= ?", r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}
