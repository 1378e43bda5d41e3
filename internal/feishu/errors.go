// Package feishu provides an HTTP client for the Feishu open platform:
// tenant token caching with serialized refresh, Bitable record listing with
// cursor pagination and rate pacing, and authenticated media downloads with
// image signature validation. Errors are classified transient vs terminal and
// transient failures retry with exponential backoff inside the client.
package feishu

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, feishu.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("feishu: bad request")
	ErrUnauthorized = errors.New("feishu: unauthorized")
	ErrForbidden    = errors.New("feishu: forbidden")
	ErrNotFound     = errors.New("feishu: not found")
	ErrThrottled    = errors.New("feishu: throttled")
	ErrServerError  = errors.New("feishu: server error")
	ErrUpstreamCode = errors.New("feishu: upstream error code")
	ErrEmptyMedia   = errors.New("feishu: empty media body")
	ErrBadImageData = errors.New("feishu: media is not a recognized image format")
)

// UpstreamError wraps a sentinel error with the HTTP status, the Feishu API
// error code from the response envelope, and the upstream message.
type UpstreamError struct {
	StatusCode int
	Code       int64
	Msg        string
	Err        error // sentinel, for errors.Is()
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu: HTTP %d (code %d): %s", e.StatusCode, e.Code, e.Msg)
	}

	return fmt.Sprintf("feishu: HTTP %d: %s", e.StatusCode, e.Msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: network-level
// errors and HTTP 408/429/5xx. Upstream envelope codes and the remaining
// 4xx statuses are terminal.
func (e *UpstreamError) Transient() bool {
	return isRetryable(e.StatusCode)
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}

	return false
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case 0: // network error, no response
		return true
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return code >= http.StatusInternalServerError
	}
}
