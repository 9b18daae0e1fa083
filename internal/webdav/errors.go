// Package webdav is an HTTP client for a Nextcloud-compatible WebDAV and OCS
// Activity endpoint: PROPFIND-based directory listing, GET/PUT content
// transfer, MKCOL/DELETE/MOVE namespace operations, and activity polling.
package webdav

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification. Use errors.Is to check.
var (
	ErrBadRequest    = errors.New("webdav: bad request")
	ErrUnauthorized  = errors.New("webdav: unauthorized")
	ErrForbidden     = errors.New("webdav: forbidden")
	ErrNotFound      = errors.New("webdav: not found")
	ErrConflict      = errors.New("webdav: conflict")
	ErrPreconditionFailed = errors.New("webdav: precondition failed")
	ErrLocked        = errors.New("webdav: resource locked")
	ErrInsufficientStorage = errors.New("webdav: insufficient storage")
	ErrServerError   = errors.New("webdav: server error")
	ErrOffline       = errors.New("webdav: remote unreachable")
)

// Error wraps a sentinel error with the HTTP status code and server-provided
// message body, for debugging and logging.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdav: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP/WebDAV status code to a sentinel error.
// Returns nil for 2xx/207 (Multi-Status) success codes.
func classifyStatus(code int) error {
	const statusMultiStatus = 207
	const statusInsufficientStorage = 507

	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusLocked:
		return ErrLocked
	case statusInsufficientStorage:
		return ErrInsufficientStorage
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusOK && (code < http.StatusMultipleChoices || code == statusMultiStatus) {
			return nil
		}

		return ErrServerError
	}
}

// isRetryable reports whether a failed request attempt should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusLocked:
		return true
	default:
		return false
	}
}
