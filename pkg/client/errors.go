package client

import (
	"errors"
	"fmt"
)

// ErrBaseURLRequired is returned by New without a base URL.
var ErrBaseURLRequired = errors.New("base url is required")

// APIError is a non-2xx response. StatusCode is preserved so callers can
// tell a rejected request (4xx) from a server failure (5xx).
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// TransportError wraps a failure to get any response at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RetryTransient retries transport failures and 5xx responses, never 4xx.
func RetryTransient(err error, _ int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
