package swapapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// ErrPairNotFound is returned when the service does not list a pair.
var ErrPairNotFound = errors.New("pair not found")

func pairNotFound(from, to string) error {
	return fmt.Errorf("%w: %s/%s", ErrPairNotFound, from, to)
}

// APIError is a non-2xx reply from the swap service. Message and Code are
// parsed from a JSON body {"error"|"message", "code"} or taken from a plain
// text body.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
	Code     string
	Body     []byte

	err error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("swap service %s: %d %s (%s)", e.Endpoint, e.Status, msg, e.Code)
	}
	return fmt.Sprintf("swap service %s: %d %s", e.Endpoint, e.Status, msg)
}

// Unwrap exposes the underlying fetch error so callers can still match
// fetch.ErrRetriesExhausted.
func (e *APIError) Unwrap() error {
	return e.err
}

// IsPairNotFound reports whether the service rejected an unknown pair.
func (e *APIError) IsPairNotFound() bool {
	m := strings.ToLower(e.Message)
	return strings.Contains(m, "could not find pair") || strings.Contains(m, "pair not found")
}

// IsAmountOutOfBounds reports whether the amount was outside the pair limits.
func (e *APIError) IsAmountOutOfBounds() bool {
	m := strings.ToLower(e.Message)
	return strings.Contains(m, "less than minimal") ||
		strings.Contains(m, "exceeds maximal") ||
		strings.Contains(m, "out of bounds")
}

// IsSyncing reports whether the service answered 503.
func (e *APIError) IsSyncing() bool {
	return e.Status == http.StatusServiceUnavailable
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// wrapError converts an *fetch.HTTPError anywhere in err's chain into an
// *APIError. Transport errors are returned wrapped with the endpoint.
func wrapError(endpoint string, err error) error {
	if err == nil {
		return nil
	}

	var httpErr *fetch.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("swap service %s: %w", endpoint, err)
	}

	apiErr := &APIError{
		Endpoint: endpoint,
		Status:   httpErr.Status,
		Body:     httpErr.Body,
		err:      err,
	}

	var body errorBody
	if json.Unmarshal(httpErr.Body, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
		apiErr.Code = body.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(httpErr.Body))
	}

	return apiErr
}
