package models

import (
	"time"

	"github.com/google/uuid"
)

// Movie represents a catalog entry
type Movie struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Genre       []string  `db:"genre" json:"genre"`
	ReleaseYear int       `db:"release_year" json:"releaseYear"`
	Duration    int       `db:"duration" json:"duration"`
	PosterURL   string    `db:"poster_url" json:"posterUrl"`
	VideoURL    string    `db:"video_url" json:"videoUrl"`
	Rating      float64   `db:"rating" json:"rating"`
	Featured    bool      `db:"featured" json:"featured"`
	UploadedBy  Uploader  `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Uploader is the public identity of the admin who created a movie
type Uploader struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// CreateMovieInput holds the metadata fields of the admin upload form.
// Numbers arrive as form text and are parsed by the service.
type CreateMovieInput struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Genre       string `json:"genre" validate:"required"`
	ReleaseYear string `json:"releaseYear" validate:"required"`
	Duration    string `json:"duration" validate:"required"`
	Featured    string `json:"featured"`
}

// UpdateMovieInput is a merge patch; nil or empty fields keep their value
type UpdateMovieInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	ReleaseYear *int    `json:"releaseYear,omitempty"`
	Duration    *int    `json:"duration,omitempty"`
	Featured    *bool   `json:"featured,omitempty"`
}

// RateMovieInput represents the body of a rating request
type RateMovieInput struct {
	Rating *float64 `json:"rating" validate:"required,min=0,max=10"`
}

// MovieFilter narrows a catalog listing
type MovieFilter struct {
	FeaturedOnly bool
	Query        string
}
