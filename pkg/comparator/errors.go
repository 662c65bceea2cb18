package comparator

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoCredentials is returned when app id, key or secret is missing.
	ErrNoCredentials = errors.New("comparator: credentials required")

	// ErrEmptyImage is returned when either image is empty.
	ErrEmptyImage = errors.New("comparator: empty image")

	// ErrMalformedResponse is returned when the response cannot be decoded
	// into a verdict.
	ErrMalformedResponse = errors.New("comparator: malformed response")
)

// APIError represents a failure status from the comparison API, either an
// HTTP status other than 200 or a non-zero header code.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Code is the header.code of the response body (0 if absent).
	Code int

	// Message is the header.message or the raw body.
	Message string

	// SID is the service request id, useful when reporting issues upstream.
	SID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("comparator: API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("comparator: API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized returns true for signature or credential rejections.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if repeating the request may succeed.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// ProviderError wraps an error with the backend name.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("comparator [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
