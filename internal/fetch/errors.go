package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoURL is returned by New when no primary URL is configured.
	ErrNoURL = errors.New("fetch: no URL configured")

	// ErrRetriesExhausted wraps the last error once every attempt failed.
	ErrRetriesExhausted = errors.New("fetch: retries exhausted")

	// ErrDecode is returned when a 2xx body is not valid JSON for the target.
	ErrDecode = errors.New("fetch: failed to decode response")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
	URL    string
	Body   []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("http %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("http %d: %s", e.Status, truncate(e.Body, 256))
}

// NetworkError is a failure below HTTP: connection refused, reset,
// timeout or a broken body.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
