package upstream

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is returned when the hourly call budget is exhausted.
// It is expected back-pressure, not a failure: callers proceed with
// cached data.
var ErrBudgetExceeded = errors.New("upstream: hourly call budget exceeded")

// ErrNotFound is returned for 404s. Surfaced, never retried.
var ErrNotFound = errors.New("upstream: not found")

// AuthError is fatal: the API key was rejected.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream: authentication rejected (status %d)", e.Status)
}

// TransientError wraps 5xx responses, timeouts and network failures.
// The client retries these up to maxAttempts before surfacing.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upstream: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transient upstream
// failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is (or wraps) an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Classify maps an error to its reporting class.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case IsAuth(err):
		return "auth"
	case IsTransient(err):
		return "transient"
	default:
		return "other"
	}
}
