package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// GenreRepository persists [models.Genre] rows.
type GenreRepository struct {
	db *sql.DB
}

// NewGenreRepository creates a new GenreRepository with the given database connection
func NewGenreRepository(db *sql.DB) *GenreRepository {
	return &GenreRepository{db: db}
}

// Create inserts genre. Names are unique.
func (r *GenreRepository) Create(ctx context.Context, genre *models.Genre) error {
	genre.Name = strings.TrimSpace(genre.Name)
	if err := genre.Validate(); err != nil {
		return err
	}
	genre.CreatedAt = now()

	result, err := r.db.ExecContext(ctx, "INSERT INTO genres (name, created_at) VALUES (?, ?)", genre.Name, genre.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: genre %q already exists", shared.ErrConflict, genre.Name)
	} else if err != nil {
		return fmt.Errorf("failed to insert genre: %w", err)
	}

	if genre.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read genre id: %w", err)
	}
	return nil
}

// Get retrieves a genre by ID
func (r *GenreRepository) Get(ctx context.Context, id int64) (*models.Genre, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM genres WHERE id = ?", id), id)
}

// GetByName retrieves a genre by its exact name.
func (r *GenreRepository) GetByName(ctx context.Context, name string) (*models.Genre, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM genres WHERE name = ?", strings.TrimSpace(name)), name)
}

// FirstOrCreate returns the genre called name, creating it when missing.
func (r *GenreRepository) FirstOrCreate(ctx context.Context, name string) (*models.Genre, error) {
	genre, err := r.GetByName(ctx, name)
	if err == nil || !errors.Is(err, shared.ErrGenreNotFound) {
		return genre, err
	}

	genre = &models.Genre{Name: name}
	err = r.Create(ctx, genre)
	if errors.Is(err, shared.ErrConflict) {
		// lost a race with another importer
		return r.GetByName(ctx, name)
	}
	return genre, err
}

// List returns every genre ordered by name.
func (r *GenreRepository) List(ctx context.Context) ([]*models.Genre, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, created_at FROM genres ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query genres: %w", err)
	}
	defer rows.Close()

	var genres []*models.Genre
	for rows.Next() {
		var g models.Genre
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan genre: %w", err)
		}
		genres = append(genres, &g)
	}
	return genres, rows.Err()
}

func (r *GenreRepository) scanOne(row *sql.Row, key any) (*models.Genre, error) {
	var g models.Genre
	err := row.Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", shared.ErrGenreNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan genre: %w", err)
	}
	return &g, nil
}
