package inference

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a completion call hit its per-call deadline.
// Distinct from BackendError: the backend may be healthy but slow.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inference timeout after %s (model %s)", e.Timeout, e.Model)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// BackendError reports that the backend could not serve the call: connection
// refused, non-OK status, undecodable response. Transient marks errors worth
// retrying (connection problems, 429, 5xx).
type BackendError struct {
	Provider  string
	Status    int
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference backend %s returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("inference backend %s: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// RateLimitError reports that the rate-limiting collaborator refused the
// call before any inference was attempted. Never raised by backends here.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsTransient reports whether err is a backend error worth retrying.
// Timeouts are not transient here: the per-call deadline belongs to the
// caller, and retrying would double it behind the caller's back.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}
