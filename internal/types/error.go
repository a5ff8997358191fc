package types

import (
	"fmt"
	"net/http"
)

// APIError is a request failure with its HTTP status, such as a rejected session, an
// unreachable Authorizer or a stale change batch. The error handler writes it into
// the JSON error envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
	// VersionError marks an E_VERSION conflict the client resolves by reloading.
	VersionError bool  `json:"versionError,omitempty"`
	Err          error `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s [type: %s]", e.Code, e.Message, e.Type)
}

func (e *APIError) Unwrap() error { return e.Err }

// Forbidden rejects a request that failed authorization.
func Forbidden(errorType, message string) *APIError {
	return &APIError{Code: http.StatusForbidden, Message: message, Type: errorType}
}

// Unavailable reports that a service the request depends on could not be reached.
func Unavailable(errorType string, err error) *APIError {
	return &APIError{Code: http.StatusServiceUnavailable, Message: err.Error(), Type: errorType, Err: err}
}

// Conflict reports stale old values in a change batch. err names the stale value.
func Conflict(err error) *APIError {
	return &APIError{
		Code:         http.StatusConflict,
		Message:      "E_VERSION - Refresh and reconcile with current version and retry. " + err.Error(),
		Type:         "version",
		VersionError: true,
		Err:          err,
	}
}
