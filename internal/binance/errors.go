package binance

import (
	"errors"
	"fmt"
	"net/http"
)

// Venue error codes that signal request-weight throttling.
const (
	codeTooManyRequests = -1003
)

// APIError is a structured error returned by the venue REST API.
// RateLimited errors are retryable; everything else is a rejection that must
// never be blindly retried (a duplicate market order is worse than a miss).
type APIError struct {
	Status int    // HTTP status
	Code   int    // venue error code, e.g. -1003
	Msg    string // venue error message
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status=%d code=%d msg=%q", e.Status, e.Code, e.Msg)
}

// RateLimited reports whether the error is a request-weight throttle.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusServiceUnavailable ||
		e.Code == codeTooManyRequests
}

// IsRateLimited reports whether err is a venue rate-limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// IsRejected reports whether err is a venue rejection (non-retryable).
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.RateLimited()
}
