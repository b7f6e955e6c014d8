package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout is returned when a request exceeds the client's deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformedPayload means the body could not be parsed as JSON at all.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptyDataset means the bundled static dataset has no records.
	ErrEmptyDataset = errors.New("static dataset is empty")
	// ErrLimiterBusy is returned by non-queueing calls when the spacing slot is taken.
	ErrLimiterBusy = errors.New("rate limiter busy")
)

// HTTPError is a non-2xx response from the upstream REST API.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("coingecko API error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RateLimited reports whether the upstream rejected the call for quota reasons.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// NetworkError wraps transport failures where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err carries a 429 response.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.RateLimited()
}

// IsTransient reports whether err is an expected upstream failure that an
// adapter should convert to a status instead of propagating.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	var netErr *NetworkError
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.As(err, &httpErr) ||
		errors.As(err, &netErr)
}
