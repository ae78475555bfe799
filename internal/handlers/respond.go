package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/liamwears/reelstream/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error  string                `json:"error"`
	Fields []services.FieldError `json:"fields,omitempty"`
	Detail string                `json:"detail,omitempty"`
}

// messageBody acknowledges an operation with no payload
type messageBody struct {
	Message string `json:"message"`
}

// responder writes JSON responses and translates service errors
type responder struct {
	logger     *logrus.Entry
	production bool
}

func (rs responder) json(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (rs responder) message(w http.ResponseWriter, status int, msg string) {
	rs.json(w, status, messageBody{Message: msg})
}

// fail maps err onto the HTTP error taxonomy. Server errors are logged and
// reported; their detail is exposed only outside production.
func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *services.ValidationError
		conflict *services.ConflictError
		upload   *services.UploadError
		tooLarge *http.MaxBytesError
	)

	switch {
	case errors.As(err, &verr):
		rs.json(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Fields: verr.Fields})
	case errors.Is(err, auth.ErrUnauthorized):
		rs.json(w, http.StatusUnauthorized, errorBody{Error: "Authentication required"})
	case errors.Is(err, auth.ErrForbidden):
		rs.json(w, http.StatusForbidden, errorBody{Error: "Access denied. Admin only."})
	case errors.Is(err, services.ErrNotFound):
		rs.json(w, http.StatusNotFound, errorBody{Error: "Movie not found"})
	case errors.As(err, &conflict):
		rs.json(w, http.StatusConflict, errorBody{Error: conflict.Error()})
	case errors.As(err, &tooLarge):
		rs.json(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Upload too large"})
	case errors.Is(err, os.ErrDeadlineExceeded):
		rs.logger.WithError(err).WithField("path", r.URL.Path).Warn("Request body timed out")
		rs.json(w, http.StatusRequestTimeout, errorBody{Error: "Request timed out"})
	case errors.As(err, &upload):
		rs.serverError(w, r, err, "Failed to upload "+string(upload.Phase))
	default:
		rs.serverError(w, r, err, "Something went wrong!")
	}
}

func (rs responder) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	rs.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error(msg)
	telemetry.CaptureError(err, map[string]string{
		"method": r.Method,
		"route":  r.Pattern,
	})

	body := errorBody{Error: msg}
	if !rs.production {
		body.Detail = err.Error()
	}
	rs.json(w, http.StatusInternalServerError, body)
}

// decodeJSON reads a JSON request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		verr := &services.ValidationError{}
		verr.Add("body", "must be valid JSON")
		return verr
	}
	return nil
}
