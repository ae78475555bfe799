// Package testutil provides in-memory stores, a media store mock and HTTP
// helpers for reelstream tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liamwears/reelstream/internal/models"
)

// MovieStore is an in-memory catalog store with the same not-found and
// ordering behaviour as the Postgres store.
type MovieStore struct {
	mu       sync.Mutex
	movies   map[uuid.UUID]models.Movie
	accounts *AccountStore

	// Err, when set, is returned by every call.
	Err error
}

// NewMovieStore creates an empty MovieStore. accounts resolves uploader
// usernames and may be nil.
func NewMovieStore(accounts *AccountStore) *MovieStore {
	return &MovieStore{movies: map[uuid.UUID]models.Movie{}, accounts: accounts}
}

func (s *MovieStore) Create(ctx context.Context, movie *models.Movie) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	m := cloneMovie(*movie)
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
		m.UpdatedAt = m.CreatedAt
	}
	s.movies[m.ID] = m
	return s.withUploader(m), nil
}

func (s *MovieStore) Get(ctx context.Context, id uuid.UUID) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	m, ok := s.movies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.withUploader(m), nil
}

func (s *MovieStore) List(ctx context.Context, filter models.MovieFilter) ([]models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	out := []models.Movie{}
	for _, m := range s.movies {
		if filter.FeaturedOnly && !m.Featured {
			continue
		}
		if q != "" && !matches(m, q) {
			continue
		}
		out = append(out, *s.withUploader(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MovieStore) Update(ctx context.Context, movie *models.Movie) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	m, ok := s.movies[movie.ID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	m.Title = movie.Title
	m.Description = movie.Description
	m.Genre = append([]string(nil), movie.Genre...)
	m.ReleaseYear = movie.ReleaseYear
	m.Duration = movie.Duration
	m.Featured = movie.Featured
	m.UpdatedAt = movie.UpdatedAt
	s.movies[m.ID] = m
	return s.withUploader(m), nil
}

func (s *MovieStore) UpdateRating(ctx context.Context, id uuid.UUID, rating float64, updatedAt time.Time) (*models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	m, ok := s.movies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	m.Rating = rating
	m.UpdatedAt = updatedAt
	s.movies[id] = m
	return s.withUploader(m), nil
}

func (s *MovieStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	if _, ok := s.movies[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.movies, id)
	return nil
}

// Len returns the number of stored movies.
func (s *MovieStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movies)
}

// Put stores a movie as-is, bypassing the service.
func (s *MovieStore) Put(movie models.Movie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[movie.ID] = cloneMovie(movie)
}

func (s *MovieStore) withUploader(m models.Movie) *models.Movie {
	m = cloneMovie(m)
	m.UploadedBy.Username = ""
	if s.accounts != nil {
		if a, ok := s.accounts.lookup(m.UploadedBy.ID); ok {
			m.UploadedBy.Username = a.Username
		}
	}
	return &m
}

func matches(m models.Movie, q string) bool {
	if strings.Contains(strings.ToLower(m.Title), q) || strings.Contains(strings.ToLower(m.Description), q) {
		return true
	}
	for _, g := range m.Genre {
		if strings.Contains(strings.ToLower(g), q) {
			return true
		}
	}
	return false
}

func cloneMovie(m models.Movie) models.Movie {
	m.Genre = append([]string(nil), m.Genre...)
	return m
}

// AccountStore is an in-memory account store that reports uniqueness
// conflicts the way Postgres does.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]models.Account
}

// NewAccountStore creates an empty AccountStore
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: map[uuid.UUID]models.Account{}}
}

func (s *AccountStore) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		switch {
		case a.Username == account.Username:
			return nil, uniqueViolation("accounts_username_key")
		case a.Email == account.Email:
			return nil, uniqueViolation("accounts_email_key")
		case account.ProviderID != nil && a.ProviderID != nil &&
			a.Provider == account.Provider && *a.ProviderID == *account.ProviderID:
			return nil, uniqueViolation("accounts_provider_key")
		}
	}

	a := *account
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	s.accounts[a.ID] = a
	return &a, nil
}

func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := s.lookup(id)
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *AccountStore) GetByProviderID(ctx context.Context, provider models.Provider, providerID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Provider == provider && a.ProviderID != nil && *a.ProviderID == providerID {
			return &a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *AccountStore) lookup(id uuid.UUID) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// Revocations is an in-memory token blocklist.
type Revocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewRevocations creates an empty blocklist
func NewRevocations() *Revocations {
	return &Revocations{revoked: map[string]time.Time{}}
}

func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = expiresAt
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[jti]
	return ok, nil
}
