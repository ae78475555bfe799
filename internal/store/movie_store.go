// Package store holds the Postgres-backed catalog and account stores.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liamwears/reelstream/internal/models"
)

const movieColumns = `
	m.id, m.title, m.description, m.genre, m.release_year, m.duration,
	m.poster_url, m.video_url, m.rating, m.featured,
	m.uploaded_by, COALESCE(a.username, ''), m.created_at, m.updated_at
`

// MovieStore persists movies in Postgres
type MovieStore struct {
	db *pgxpool.Pool
}

// NewMovieStore creates a new MovieStore
func NewMovieStore(db *pgxpool.Pool) *MovieStore {
	return &MovieStore{db: db}
}

// Create inserts a movie and returns it joined with its uploader
func (s *MovieStore) Create(ctx context.Context, movie *models.Movie) (*models.Movie, error) {
	query := `
		WITH m AS (
			INSERT INTO movies (title, description, genre, release_year, duration,
			                    poster_url, video_url, rating, featured, uploaded_by,
			                    created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING *
		)
		SELECT ` + movieColumns + `
		FROM m LEFT JOIN accounts a ON a.id = m.uploaded_by
	`

	created, err := scanMovie(s.db.QueryRow(ctx, query,
		movie.Title,
		movie.Description,
		movie.Genre,
		movie.ReleaseYear,
		movie.Duration,
		movie.PosterURL,
		movie.VideoURL,
		movie.Rating,
		movie.Featured,
		movie.UploadedBy.ID,
		movie.CreatedAt,
		movie.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create movie: %w", err)
	}

	return created, nil
}

// Get retrieves a movie by ID. Returns pgx.ErrNoRows if absent.
func (s *MovieStore) Get(ctx context.Context, id uuid.UUID) (*models.Movie, error) {
	query := `
		SELECT ` + movieColumns + `
		FROM movies m LEFT JOIN accounts a ON a.id = m.uploaded_by
		WHERE m.id = $1
	`

	movie, err := scanMovie(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	return movie, nil
}

// List retrieves movies newest first
func (s *MovieStore) List(ctx context.Context, filter models.MovieFilter) ([]models.Movie, error) {
	query := `
		SELECT ` + movieColumns + `
		FROM movies m LEFT JOIN accounts a ON a.id = m.uploaded_by
		WHERE TRUE
	`
	args := []interface{}{}
	argCount := 0

	if filter.FeaturedOnly {
		query += ` AND m.featured`
	}

	if q := strings.TrimSpace(filter.Query); q != "" {
		argCount++
		query += fmt.Sprintf(` AND (m.title ILIKE $%[1]d ESCAPE '\'
			OR m.description ILIKE $%[1]d ESCAPE '\'
			OR EXISTS (SELECT 1 FROM unnest(m.genre) g WHERE g ILIKE $%[1]d ESCAPE '\'))`, argCount)
		args = append(args, "%"+escapeLike(q)+"%")
	}

	query += ` ORDER BY m.created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies: %w", err)
	}
	defer rows.Close()

	movies := []models.Movie{}
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, *movie)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movies: %w", err)
	}

	return movies, nil
}

// Update writes the mutable metadata fields of a movie. Media URLs and the
// uploader are never written here.
func (s *MovieStore) Update(ctx context.Context, movie *models.Movie) (*models.Movie, error) {
	query := `
		WITH m AS (
			UPDATE movies
			SET title = $2, description = $3, genre = $4, release_year = $5,
			    duration = $6, featured = $7, updated_at = $8
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + movieColumns + `
		FROM m LEFT JOIN accounts a ON a.id = m.uploaded_by
	`

	updated, err := scanMovie(s.db.QueryRow(ctx, query,
		movie.ID,
		movie.Title,
		movie.Description,
		movie.Genre,
		movie.ReleaseYear,
		movie.Duration,
		movie.Featured,
		movie.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// UpdateRating overwrites the rating of a movie
func (s *MovieStore) UpdateRating(ctx context.Context, id uuid.UUID, rating float64, updatedAt time.Time) (*models.Movie, error) {
	query := `
		WITH m AS (
			UPDATE movies SET rating = $2, updated_at = $3
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + movieColumns + `
		FROM m LEFT JOIN accounts a ON a.id = m.uploaded_by
	`

	movie, err := scanMovie(s.db.QueryRow(ctx, query, id, rating, updatedAt))
	if err != nil {
		return nil, err
	}

	return movie, nil
}

// Delete deletes a movie
func (s *MovieStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM movies WHERE id = $1`

	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete movie: %w", err)
	}

	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}

func scanMovie(row pgx.Row) (*models.Movie, error) {
	var movie models.Movie
	err := row.Scan(
		&movie.ID,
		&movie.Title,
		&movie.Description,
		&movie.Genre,
		&movie.ReleaseYear,
		&movie.Duration,
		&movie.PosterURL,
		&movie.VideoURL,
		&movie.Rating,
		&movie.Featured,
		&movie.UploadedBy.ID,
		&movie.UploadedBy.Username,
		&movie.CreatedAt,
		&movie.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
