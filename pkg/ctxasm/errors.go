package ctxasm

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an error returned by the ctxasm API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// IsInvalidInput returns true if the request was rejected as malformed.
func (e *APIError) IsInvalidInput() bool {
	return e.StatusCode == http.StatusBadRequest || e.Code == "INVALID_INPUT" || e.Code == "INVALID_ENTRY"
}

// IsUnauthorized returns true if the API key was missing or wrong.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRateLimited returns true if the server throttled the request.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTimeout returns true if the server gave up on the request.
func (e *APIError) IsTimeout() bool {
	return e.StatusCode == http.StatusGatewayTimeout || e.Code == "TIMEOUT"
}

// IsServerError returns true if the error is a server error.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsInvalidInputError checks if err is an invalid input error.
func IsInvalidInputError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsInvalidInput()
}

// IsNotSupportedError checks if err says the server lacks the feature,
// such as cache routes on a server running without a cache.
func IsNotSupportedError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusNotImplemented)
}
