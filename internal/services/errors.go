package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// FieldError describes one invalid or missing input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in caller input, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem with field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has reports whether field already has a recorded problem.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns e as an error if it holds any problems, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UploadPhase names the ingestion step whose media upload failed.
type UploadPhase string

const (
	PhasePoster UploadPhase = "poster"
	PhaseVideo  UploadPhase = "video"
)

// UploadError means a media store transfer failed and nothing was persisted.
type UploadError struct {
	Phase UploadPhase
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload failed: %v", e.Phase, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// StoreError wraps an unexpected persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ConflictError means a unique field is already taken.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already in use", e.Field)
}

// storeErr maps a store failure to ErrNotFound or a StoreError.
func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return &StoreError{Op: op, Err: err}
}

// uniqueViolation returns the violated constraint name for a Postgres
// unique_violation error.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
