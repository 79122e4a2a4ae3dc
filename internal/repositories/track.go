package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

const trackColumns = `id, title, artist, genre_id, source, source_id, audio_url, image_url, status, progress,
	error_message, audio_path, image_path, video_path, youtube_video_id, version, created_at, updated_at`

// TrackRepository persists [models.Track] rows.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts track and sets its id, version and timestamps.
//
// A second track with the same source and non-empty source id fails with [shared.ErrConflict].
func (r *TrackRepository) Create(ctx context.Context, track *models.Track) error {
	if track.Status == "" {
		track.Status = models.StatusPending
	}
	if track.Source == "" {
		track.Source = models.SourceManual
	}
	if err := track.Validate(); err != nil {
		return err
	}

	ts := now()
	track.CreatedAt, track.UpdatedAt, track.Version = ts, ts, 1

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tracks (title, artist, genre_id, source, source_id, audio_url, image_url, status, progress,
			error_message, audio_path, image_path, video_path, youtube_video_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		track.Title, track.Artist, nullInt64(track.GenreID), track.Source, track.SourceID, track.AudioURL, track.ImageURL,
		track.Status, track.Progress, nullString(track.ErrorMessage), nullString(track.AudioPath), nullString(track.ImagePath),
		nullString(track.VideoPath), nullString(track.YouTubeVideoID), track.Version, track.CreatedAt, track.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: track %s/%s already exists", shared.ErrConflict, track.Source, track.SourceID)
	} else if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read track id: %w", err)
	}
	track.ID = id
	return nil
}

// Get retrieves a track by ID
func (r *TrackRepository) Get(ctx context.Context, id int64) (*models.Track, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrTrackNotFound, id)
	}
	return track, err
}

// GetBySource retrieves a track by its external source id.
func (r *TrackRepository) GetBySource(ctx context.Context, source models.Source, sourceID string) (*models.Track, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE source = ? AND source_id = ?", source, sourceID)
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrTrackNotFound, source, sourceID)
	}
	return track, err
}

// GetMany returns the tracks that exist among ids, ordered by id. Missing ids are left out.
func (r *TrackRepository) GetMany(ctx context.Context, ids []int64) ([]*models.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.List(ctx, models.TrackQuery{IDs: ids})
}

// Update writes every mutable column of track if its version still matches.
//
// On success the in-memory version is bumped. A stale version fails with [shared.ErrConflict],
// a missing row with [shared.ErrTrackNotFound].
func (r *TrackRepository) Update(ctx context.Context, track *models.Track) error {
	if err := track.Validate(); err != nil {
		return err
	}

	ts := now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE tracks
		SET title = ?, artist = ?, genre_id = ?, audio_url = ?, image_url = ?, status = ?, progress = ?,
			error_message = ?, audio_path = ?, image_path = ?, video_path = ?, youtube_video_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		track.Title, track.Artist, nullInt64(track.GenreID), track.AudioURL, track.ImageURL, track.Status, track.Progress,
		nullString(track.ErrorMessage), nullString(track.AudioPath), nullString(track.ImagePath), nullString(track.VideoPath),
		nullString(track.YouTubeVideoID), ts, track.ID, track.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, track.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: track %d changed since version %d", shared.ErrConflict, track.ID, track.Version)
	}

	track.Version++
	track.UpdatedAt = ts
	return nil
}

// UpdateProgress stores worker progress while the track is still processing at version.
//
// It does not bump the version. When the track was stopped, deleted or restarted in the
// meantime the write is dropped and [shared.ErrInvalidState] or [shared.ErrTrackNotFound] is returned.
func (r *TrackRepository) UpdateProgress(ctx context.Context, id, version int64, progress int) error {
	progress = max(0, min(progress, 100))
	result, err := r.db.ExecContext(ctx, `
		UPDATE tracks SET progress = MAX(progress, ?), updated_at = ?
		WHERE id = ? AND version = ? AND status = ?
	`, progress, now(), id, version, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		track, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: track %d is %s at version %d", shared.ErrInvalidState, id, track.Status, track.Version)
	}
	return nil
}

// Delete removes a track by ID
func (r *TrackRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", shared.ErrTrackNotFound, id)
	}
	return nil
}

// List retrieves tracks matching q in id order.
//
// AfterID and Limit implement keyset pagination.
func (r *TrackRepository) List(ctx context.Context, q models.TrackQuery) ([]*models.Track, error) {
	where, args := trackFilter(q)
	query := "SELECT " + trackColumns + " FROM tracks" + where + " ORDER BY id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// Count returns how many tracks match q, ignoring pagination.
func (r *TrackRepository) Count(ctx context.Context, q models.TrackQuery) (int, error) {
	q.AfterID = 0
	where, args := trackFilter(q)

	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// Chunk walks every track matching q in id order, size rows at a time.
//
// Each chunk is fully read before fn runs so fn may write to the database.
// Iteration stops at the first error from fn.
func (r *TrackRepository) Chunk(ctx context.Context, q models.TrackQuery, size int, fn func([]*models.Track) error) error {
	if size <= 0 {
		size = 100
	}
	q.Limit = size
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tracks, err := r.List(ctx, q)
		if err != nil {
			return err
		}
		if len(tracks) == 0 {
			return nil
		}
		if err := fn(tracks); err != nil {
			return err
		}
		if len(tracks) < size {
			return nil
		}
		q.AfterID = tracks[len(tracks)-1].ID
	}
}

// PendingWithoutJob lists pending tracks, untouched since before, that have no queued or running
// processing job.
//
// Tracks that were never started keep version 1 and are left alone; a pending track with a higher
// version was requested by a start or retry whose enqueue never happened.
func (r *TrackRepository) PendingWithoutJob(ctx context.Context, before time.Time, limit int) ([]*models.Track, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+trackColumns+` FROM tracks t
		WHERE t.status = ? AND t.version > 1 AND t.updated_at < ? AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.track_id = t.id AND j.type = ? AND j.status IN (?, ?)
		)
		ORDER BY t.id ASC
		LIMIT ?
	`, models.StatusPending, before.UTC(), models.JobProcessTrack, models.JobQueued, models.JobRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// CountByStatus returns the number of tracks per status.
func (r *TrackRepository) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tracks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int, len(models.Statuses))
	for rows.Next() {
		var (
			status models.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func trackFilter(q models.TrackQuery) (string, []any) {
	var (
		where []string
		args  []any
	)

	if len(q.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, st)
		}
	}
	if q.GenreID != nil {
		where = append(where, "genre_id = ?")
		args = append(args, *q.GenreID)
	}
	if q.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, q.AfterID)
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanTrack(s scanner) (*models.Track, error) {
	var (
		t            models.Track
		genreID      sql.NullInt64
		errorMessage sql.NullString
		audioPath    sql.NullString
		imagePath    sql.NullString
		videoPath    sql.NullString
		youtubeID    sql.NullString
	)

	err := s.Scan(&t.ID, &t.Title, &t.Artist, &genreID, &t.Source, &t.SourceID, &t.AudioURL, &t.ImageURL,
		&t.Status, &t.Progress, &errorMessage, &audioPath, &imagePath, &videoPath, &youtubeID, &t.Version,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	t.GenreID = int64Ptr(genreID)
	t.ErrorMessage = stringPtr(errorMessage)
	t.AudioPath = stringPtr(audioPath)
	t.ImagePath = stringPtr(imagePath)
	t.VideoPath = stringPtr(videoPath)
	t.YouTubeVideoID = stringPtr(youtubeID)
	return &t, nil
}
