package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/media"
	"github.com/liamwears/reelstream/internal/metrics"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	minReleaseYear = 1900
	maxRating      = 10
)

// MovieStore is the Catalog Store
type MovieStore interface {
	Create(ctx context.Context, movie *models.Movie) (*models.Movie, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Movie, error)
	List(ctx context.Context, filter models.MovieFilter) ([]models.Movie, error)
	Update(ctx context.Context, movie *models.Movie) (*models.Movie, error)
	UpdateRating(ctx context.Context, id uuid.UUID, rating float64, updatedAt time.Time) (*models.Movie, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MediaStore is the hosted store for posters and videos
type MediaStore interface {
	Upload(ctx context.Context, file io.Reader, opts media.UploadOptions) (*media.Asset, error)
	Delete(ctx context.Context, publicID string, resourceType media.ResourceType) error
}

// FileUpload is one binary part of the ingestion form
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// MovieService handles the movie catalog lifecycle
type MovieService struct {
	movies         MovieStore
	media          MediaStore
	maxUploadBytes int64
	logger         *logrus.Entry
	now            func() time.Time
}

// NewMovieService creates a new MovieService
func NewMovieService(movies MovieStore, mediaStore MediaStore, maxUploadBytes int64, logger *logrus.Entry) *MovieService {
	return &MovieService{
		movies:         movies,
		media:          mediaStore,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.WithField("component", "catalog"),
		now:            time.Now,
	}
}

// List returns every movie, newest first
func (s *MovieService) List(ctx context.Context) ([]models.Movie, error) {
	movies, err := s.movies.List(ctx, models.MovieFilter{})
	if err != nil {
		return nil, storeErr("list movies", err)
	}
	return movies, nil
}

// ListAdmin is List behind the administrator gate
func (s *MovieService) ListAdmin(ctx context.Context, identity auth.Identity) ([]models.Movie, error) {
	if err := auth.Authorize(identity, auth.LevelAdmin); err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// Featured returns featured movies, newest first
func (s *MovieService) Featured(ctx context.Context) ([]models.Movie, error) {
	movies, err := s.movies.List(ctx, models.MovieFilter{FeaturedOnly: true})
	if err != nil {
		return nil, storeErr("list featured movies", err)
	}
	return movies, nil
}

// Get returns one movie
func (s *MovieService) Get(ctx context.Context, id uuid.UUID) (*models.Movie, error) {
	movie, err := s.movies.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get movie", err)
	}
	return movie, nil
}

// Search matches text case-insensitively against title, description and
// genre. Blank text returns every movie.
func (s *MovieService) Search(ctx context.Context, text string) ([]models.Movie, error) {
	movies, err := s.movies.List(ctx, models.MovieFilter{Query: strings.TrimSpace(text)})
	if err != nil {
		return nil, storeErr("search movies", err)
	}
	return movies, nil
}

// Rate overwrites a movie's rating. Last caller wins.
func (s *MovieService) Rate(ctx context.Context, identity auth.Identity, id uuid.UUID, input models.RateMovieInput) (*models.Movie, error) {
	if err := auth.Authorize(identity, auth.LevelUser); err != nil {
		return nil, err
	}

	verr := validateStruct(input)
	if input.Rating != nil && math.IsNaN(*input.Rating) && !verr.Has("rating") {
		verr.Add("rating", fmt.Sprintf("must be between 0 and %d", maxRating))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	current, err := s.movies.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get movie", err)
	}

	movie, err := s.movies.UpdateRating(ctx, id, *input.Rating, s.nextUpdatedAt(current.UpdatedAt))
	if err != nil {
		return nil, storeErr("rate movie", err)
	}

	s.logger.WithFields(logrus.Fields{
		"movie_id":   id,
		"account_id": identity.AccountID,
		"rating":     *input.Rating,
	}).Debug("Movie rated")

	return movie, nil
}

// Create runs the ingestion workflow: validate everything, upload the poster,
// upload the video, then persist. Nothing is persisted unless both uploads
// succeed.
func (s *MovieService) Create(ctx context.Context, identity auth.Identity, input models.CreateMovieInput, poster, video *FileUpload) (*models.Movie, error) {
	if err := auth.Authorize(identity, auth.LevelAdmin); err != nil {
		return nil, err
	}

	movie, verr := s.buildMovie(input)
	s.checkFile(verr, "poster", poster, "image/")
	s.checkFile(verr, "video", video, "video/")
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"title":      movie.Title,
		"account_id": identity.AccountID,
	})

	posterAsset, err := s.upload(ctx, poster, media.PosterFolder, media.ResourceImage, PhasePoster)
	if err != nil {
		log.WithError(err).Error("Poster upload failed")
		return nil, err
	}

	videoAsset, err := s.upload(ctx, video, media.VideoFolder, media.ResourceVideo, PhaseVideo)
	if err != nil {
		log.WithError(err).Error("Video upload failed")
		s.discard(ctx, posterAsset.PublicID, media.ResourceImage, "video_upload_failed")
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	movie.PosterURL = posterAsset.URL
	movie.VideoURL = videoAsset.URL
	movie.UploadedBy = models.Uploader{ID: identity.AccountID, Username: identity.Username}
	movie.CreatedAt = now
	movie.UpdatedAt = now

	created, err := s.movies.Create(ctx, movie)
	if err != nil {
		// Both assets are now unreferenced; leave them for manual cleanup.
		metrics.MediaOrphans.WithLabelValues("persist_failed").Add(2)
		log.WithError(err).WithFields(logrus.Fields{
			"poster_public_id": posterAsset.PublicID,
			"video_public_id":  videoAsset.PublicID,
		}).Error("Failed to persist movie after upload; media orphaned")
		return nil, &StoreError{Op: "create movie", Err: err}
	}

	log.WithField("movie_id", created.ID).Info("Movie created")
	return created, nil
}

// Update applies a merge patch to a movie's metadata. Media URLs and the
// uploader never change.
func (s *MovieService) Update(ctx context.Context, identity auth.Identity, id uuid.UUID, input models.UpdateMovieInput) (*models.Movie, error) {
	if err := auth.Authorize(identity, auth.LevelAdmin); err != nil {
		return nil, err
	}

	movie, err := s.movies.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get movie", err)
	}

	verr := &ValidationError{}
	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		movie.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil && strings.TrimSpace(*input.Description) != "" {
		movie.Description = *input.Description
	}
	if input.Genre != nil {
		if genre := normalizeGenre(*input.Genre); len(genre) > 0 {
			movie.Genre = genre
		}
	}
	// Zero numbers count as empty and keep the stored value.
	if input.ReleaseYear != nil && *input.ReleaseYear != 0 {
		if msg := s.checkReleaseYear(*input.ReleaseYear); msg != "" {
			verr.Add("releaseYear", msg)
		} else {
			movie.ReleaseYear = *input.ReleaseYear
		}
	}
	if input.Duration != nil && *input.Duration != 0 {
		if *input.Duration < 0 {
			verr.Add("duration", "must be a positive number of minutes")
		} else {
			movie.Duration = *input.Duration
		}
	}
	if input.Featured != nil {
		movie.Featured = *input.Featured
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	movie.UpdatedAt = s.nextUpdatedAt(movie.UpdatedAt)

	updated, err := s.movies.Update(ctx, movie)
	if err != nil {
		return nil, storeErr("update movie", err)
	}

	s.logger.WithField("movie_id", id).Info("Movie updated")
	return updated, nil
}

// Delete removes a movie and releases its poster and video. Media delete
// failures are logged and counted but do not block the catalog delete.
func (s *MovieService) Delete(ctx context.Context, identity auth.Identity, id uuid.UUID) error {
	if err := auth.Authorize(identity, auth.LevelAdmin); err != nil {
		return err
	}

	movie, err := s.movies.Get(ctx, id)
	if err != nil {
		return storeErr("get movie", err)
	}

	s.discard(ctx, media.PublicIDFromURL(movie.PosterURL), media.ResourceImage, "delete_failed")
	s.discard(ctx, media.PublicIDFromURL(movie.VideoURL), media.ResourceVideo, "delete_failed")

	if err := s.movies.Delete(ctx, id); err != nil {
		return storeErr("delete movie", err)
	}

	s.logger.WithField("movie_id", id).Info("Movie deleted")
	return nil
}

// buildMovie validates and normalizes the metadata fields of an upload.
func (s *MovieService) buildMovie(input models.CreateMovieInput) (*models.Movie, *ValidationError) {
	verr := validateStruct(input)
	movie := &models.Movie{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Featured:    input.Featured == "true",
	}

	if !verr.Has("title") && movie.Title == "" {
		verr.Add("title", "is required")
	}
	if !verr.Has("description") && strings.TrimSpace(movie.Description) == "" {
		verr.Add("description", "is required")
	}

	if !verr.Has("genre") {
		movie.Genre = normalizeGenre(input.Genre)
		if len(movie.Genre) == 0 {
			verr.Add("genre", "must contain at least one non-empty entry")
		}
	}

	if !verr.Has("releaseYear") {
		year, err := strconv.Atoi(strings.TrimSpace(input.ReleaseYear))
		if err != nil {
			verr.Add("releaseYear", "must be an integer")
		} else if msg := s.checkReleaseYear(year); msg != "" {
			verr.Add("releaseYear", msg)
		} else {
			movie.ReleaseYear = year
		}
	}

	if !verr.Has("duration") {
		minutes, err := strconv.Atoi(strings.TrimSpace(input.Duration))
		if err != nil || minutes <= 0 {
			verr.Add("duration", "must be a positive number of minutes")
		} else {
			movie.Duration = minutes
		}
	}

	return movie, verr
}

func (s *MovieService) checkReleaseYear(year int) string {
	latest := s.now().Year() + 1
	if year < minReleaseYear || year > latest {
		return fmt.Sprintf("must be between %d and %d", minReleaseYear, latest)
	}
	return ""
}

func (s *MovieService) checkFile(verr *ValidationError, field string, f *FileUpload, mimePrefix string) {
	switch {
	case f == nil || f.Content == nil:
		verr.Add(field, "file is required")
	case f.Size > s.maxUploadBytes:
		verr.Add(field, fmt.Sprintf("file exceeds the %d byte limit", s.maxUploadBytes))
	case !strings.HasPrefix(strings.ToLower(f.ContentType), mimePrefix):
		verr.Add(field, fmt.Sprintf("must be an %s* file", mimePrefix))
	}
}

func (s *MovieService) upload(ctx context.Context, f *FileUpload, folder string, rt media.ResourceType, phase UploadPhase) (*media.Asset, error) {
	asset, err := s.media.Upload(ctx, f.Content, media.UploadOptions{
		Folder:       folder,
		ResourceType: rt,
		Filename:     f.Filename,
	})
	if err != nil {
		metrics.MediaUploads.WithLabelValues(string(phase), "error").Inc()
		return nil, &UploadError{Phase: phase, Err: err}
	}
	metrics.MediaUploads.WithLabelValues(string(phase), "ok").Inc()
	return asset, nil
}

// discard deletes a media asset best-effort; failures are logged as orphans.
func (s *MovieService) discard(ctx context.Context, publicID string, rt media.ResourceType, reason string) {
	log := s.logger.WithFields(logrus.Fields{
		"public_id":     publicID,
		"resource_type": rt,
	})
	if publicID == "" {
		metrics.MediaOrphans.WithLabelValues(reason).Inc()
		log.Warn("Cannot derive media public id; asset orphaned")
		return
	}
	if err := s.media.Delete(ctx, publicID, rt); err != nil {
		metrics.MediaOrphans.WithLabelValues(reason).Inc()
		log.WithError(err).Warn("Failed to delete media asset; asset orphaned")
	}
}

// nextUpdatedAt returns the current time, nudged past prev so updatedAt
// strictly increases even on coarse clocks.
func (s *MovieService) nextUpdatedAt(prev time.Time) time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

// normalizeGenre splits a comma-joined genre string into trimmed, non-empty tags.
func normalizeGenre(raw string) []string {
	genre := []string{}
	for _, g := range strings.Split(raw, ",") {
		if g = strings.TrimSpace(g); g != "" {
			genre = append(genre, g)
		}
	}
	return genre
}
