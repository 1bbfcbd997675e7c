package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// maxErrorBody bounds how much of a response body an error message carries.
const maxErrorBody = 512

// RemoteAPIError is a failed remote call: a non-2xx response, a per-attempt
// timeout (Timeout set, StatusCode 0) or a transport failure (StatusCode 0).
type RemoteAPIError struct {
	StatusCode int
	Body       string
	Timeout    bool
}

func (e *RemoteAPIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("remote: timeout: %s", body)
	case e.StatusCode == 0:
		return fmt.Sprintf("remote: transport: %s", body)
	}
	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, body)
}

// Transient reports whether retrying the same request may succeed.
func (e *RemoteAPIError) Transient() bool {
	return e.Timeout || e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient reports whether err is a retryable RemoteAPIError.
func IsTransient(err error) bool {
	var apiErr *RemoteAPIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsGone reports whether err is a 410 response. Calendar answers 410 to an
// expired sync token and to deleting an already deleted event.
func IsGone(err error) bool {
	return hasStatus(err, http.StatusGone)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, code int) bool {
	var apiErr *RemoteAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// localError marks a failure raised before any request was sent. It is never
// retried.
type localError struct{ error }

func (e localError) Unwrap() error { return e.error }

// classify converts an error returned by a generated API call. attemptCtx is
// the per-attempt context carrying the call timeout.
func classify(attemptCtx context.Context, err error) error {
	var local localError
	if errors.As(err, &local) {
		return local.error
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return &RemoteAPIError{StatusCode: gerr.Code, Body: body}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &RemoteAPIError{Timeout: true, Body: err.Error()}
	}
	return &RemoteAPIError{Body: err.Error()}
}
