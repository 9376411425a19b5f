package tableau

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by calls that need a session before
// Authenticate has succeeded.
var ErrNotAuthenticated = errors.New("tableau: not authenticated, call Authenticate first")

// AuthenticationError indicates sign-in did not yield a usable session.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// APIError is the common part of every request failure that survived the
// retry budget. Use errors.As with *APIError to handle them uniformly.
type APIError struct {
	Method   string
	Endpoint string
	Attempts int
	Err      error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Method, e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s failed after %d attempt(s)", e.Method, e.Endpoint, e.Attempts)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	*APIError
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("http error: status=%d %s %s attempts=%d body=%s", e.StatusCode, e.Method, e.Endpoint, e.Attempts, body)
}

func (e *HTTPError) Unwrap() error { return e.APIError }

// ConnectionError indicates the server could not be reached.
type ConnectionError struct{ *APIError }

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server unreachable: %s", e.APIError.Error())
}

func (e *ConnectionError) Unwrap() error { return e.APIError }

// TimeoutError indicates connect or read timeouts on every attempt.
type TimeoutError struct{ *APIError }

func (e *TimeoutError) Error() string { return fmt.Sprintf("request timed out: %s", e.APIError.Error()) }

func (e *TimeoutError) Unwrap() error { return e.APIError }
