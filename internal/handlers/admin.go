package handlers

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/liamwears/reelstream/internal/middleware"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/sirupsen/logrus"
)

const (
	// multipartMemory is how much of a form is kept in memory before parts
	// spill to temp files.
	multipartMemory = 32 << 20
	// formOverhead covers text fields and part headers on top of the files.
	formOverhead = 1 << 20
	// minUploadRate is the slowest client throughput, in bytes per second,
	// that a full-size upload must still fit under.
	minUploadRate = 1 << 20
	uploadGrace   = time.Minute
)

// AdminHandler handles the administrator catalog routes
type AdminHandler struct {
	movieService   *services.MovieService
	maxUploadBytes int64
	responder
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(movieService *services.MovieService, maxUploadBytes int64, logger *logrus.Entry, production bool) *AdminHandler {
	return &AdminHandler{
		movieService:   movieService,
		maxUploadBytes: maxUploadBytes,
		responder:      responder{logger: logger, production: production},
	}
}

// List handles GET /api/admin/movies
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	movies, err := h.movieService.ListAdmin(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movies)
}

// Create handles POST /api/admin/movies, a multipart form with the metadata
// fields plus "poster" and "video" files.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	maxBody := 2*h.maxUploadBytes + formOverhead
	h.extendDeadlines(w, uploadTimeout(maxBody))
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.fail(w, r, formError(err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.WithError(err).Warn("Failed to remove multipart temp files")
		}
	}()

	input := models.CreateMovieInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Genre:       r.FormValue("genre"),
		ReleaseYear: r.FormValue("releaseYear"),
		Duration:    r.FormValue("duration"),
		Featured:    r.FormValue("featured"),
	}

	poster, closePoster, err := formFile(r, "poster")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer closePoster()

	video, closeVideo, err := formFile(r, "video")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer closeVideo()

	movie, err := h.movieService.Create(r.Context(), middleware.IdentityFromContext(r.Context()), input, poster, video)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusCreated, movie)
}

// Update handles PUT /api/admin/movies/{id}
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	movieID, ok := movieIDFromPath(r)
	if !ok {
		h.fail(w, r, services.ErrNotFound)
		return
	}

	var input models.UpdateMovieInput
	if err := decodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	movie, err := h.movieService.Update(r.Context(), middleware.IdentityFromContext(r.Context()), movieID, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, movie)
}

// Delete handles DELETE /api/admin/movies/{id}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	movieID, ok := movieIDFromPath(r)
	if !ok {
		h.fail(w, r, services.ErrNotFound)
		return
	}

	if err := h.movieService.Delete(r.Context(), middleware.IdentityFromContext(r.Context()), movieID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.message(w, http.StatusOK, "Movie deleted successfully")
}

// extendDeadlines lifts the server's whole-request timeouts for the upload
// body and the media transfer that follows it.
func (h *AdminHandler) extendDeadlines(w http.ResponseWriter, d time.Duration) {
	rc := http.NewResponseController(w)
	now := time.Now()
	if err := rc.SetReadDeadline(now.Add(d)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.WithError(err).Warn("Failed to extend upload read deadline")
	}
	if err := rc.SetWriteDeadline(now.Add(2 * d)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.WithError(err).Warn("Failed to extend upload write deadline")
	}
}

// uploadTimeout is how long a body of maxBody bytes may take to arrive
func uploadTimeout(maxBody int64) time.Duration {
	return uploadGrace + time.Duration(maxBody/minUploadRate)*time.Second
}

// formError separates a malformed form from a body that failed in transit.
// Only the former is the client's validation problem.
func formError(err error) error {
	var (
		tooLarge *http.MaxBytesError
		netErr   net.Error
	)
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, os.ErrDeadlineExceeded):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &netErr):
		return fmt.Errorf("read upload body: %w", err)
	}
	verr := &services.ValidationError{}
	verr.Add("body", "must be multipart/form-data")
	return verr
}

// formFile opens the first file of a multipart field. A missing field yields
// a nil upload so the service can report it with the other problems.
func formFile(r *http.Request, field string) (*services.FileUpload, func(), error) {
	noop := func() {}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, noop, nil
	}

	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, noop, err
	}

	upload := &services.FileUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Content:     f,
	}
	return upload, func() { _ = f.Close() }, nil
}
