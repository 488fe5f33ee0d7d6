// Package errors holds the sentinel errors shared by the crawler, the
// ingestion pipeline and the query path, plus their HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")

	// ErrEmptyExtraction means the OCR collaborator returned no usable text.
	// The document is left out of the ledger so a later scan retries it.
	ErrEmptyExtraction = errors.New("extraction produced no text")

	// ErrEmbeddingUnavailable wraps any failure of the embedding collaborator.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrMirrorUnavailable wraps failures of the document-database mirror.
	ErrMirrorUnavailable = errors.New("document mirror unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmbeddingUnavailable), errors.Is(err, ErrMirrorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
