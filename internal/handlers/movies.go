package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/liamwears/reelstream/internal/middleware"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/sirupsen/logrus"
)

// MovieHandler handles the public catalog routes
type MovieHandler struct {
	movieService *services.MovieService
	responder
}

// NewMovieHandler creates a new movie handler
func NewMovieHandler(movieService *services.MovieService, logger *logrus.Entry, production bool) *MovieHandler {
	return &MovieHandler{
		movieService: movieService,
		responder:    responder{logger: logger, production: production},
	}
}

// List handles GET /api/movies
func (h *MovieHandler) List(w http.ResponseWriter, r *http.Request) {
	movies, err := h.movieService.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movies)
}

// Featured handles GET /api/movies/featured
func (h *MovieHandler) Featured(w http.ResponseWriter, r *http.Request) {
	movies, err := h.movieService.Featured(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movies)
}

// Search handles GET /api/movies/search/{text}. Without text it lists all.
func (h *MovieHandler) Search(w http.ResponseWriter, r *http.Request) {
	movies, err := h.movieService.Search(r.Context(), r.PathValue("text"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movies)
}

// Get handles GET /api/movies/{id}
func (h *MovieHandler) Get(w http.ResponseWriter, r *http.Request) {
	movieID, ok := movieIDFromPath(r)
	if !ok {
		h.fail(w, r, services.ErrNotFound)
		return
	}

	movie, err := h.movieService.Get(r.Context(), movieID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movie)
}

// Rate handles POST /api/movies/{id}/rate
func (h *MovieHandler) Rate(w http.ResponseWriter, r *http.Request) {
	movieID, ok := movieIDFromPath(r)
	if !ok {
		h.fail(w, r, services.ErrNotFound)
		return
	}

	var input models.RateMovieInput
	if err := decodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	movie, err := h.movieService.Rate(r.Context(), middleware.IdentityFromContext(r.Context()), movieID, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movie)
}

// movieIDFromPath parses the {id} path value. Malformed ids are reported as
// not found, like ids that do not exist.
func movieIDFromPath(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
