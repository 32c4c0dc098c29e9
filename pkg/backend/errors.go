package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	// ErrNoBaseURL is returned when the backend URL is missing.
	ErrNoBaseURL = errors.New("backend: base URL required")

	// ErrUnavailable is returned (wrapped) when an endpoint answers 503.
	ErrUnavailable = errors.New("backend: AI temporarily unavailable")

	// ErrEmptyAudio is returned when asked to transcribe nothing.
	ErrEmptyAudio = errors.New("backend: empty audio")
)

// Service names used in errors and logs.
const (
	ServiceTranscribe = "transcribe"
	ServiceChat       = "chat"
)

// APIError represents a non-2xx answer from the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Service identifies the endpoint.
	Service string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend [%s]: API error %d: %s", e.Service, e.StatusCode, e.Message)
}

// IsUnavailable returns true for HTTP 503.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Is reports 503 responses as ErrUnavailable.
func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && e.IsUnavailable()
}

// RequestError wraps transport and decode failures with service context.
type RequestError struct {
	Service string
	Err     error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("backend [%s]: %v", e.Service, e.Err)
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

func wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{Service: service, Err: err}
}
