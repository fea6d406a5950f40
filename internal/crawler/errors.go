package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy for crawl failures. The class decides the recovery policy:
// validation and security failures are never retried, navigation failures are
// retried with backoff then skipped, resource-ceiling failures abort the
// whole scan.
var (
	// ErrSecurityValidation marks SSRF/rebinding rejections. Deliberately
	// distinguishable from generic network failures so a blocked navigation
	// is never retried or misreported as a transient error.
	ErrSecurityValidation = errors.New("security validation failed")

	// ErrMemoryLimitExceeded aborts the entire scan, not just the page.
	ErrMemoryLimitExceeded = errors.New("process memory limit exceeded")

	// ErrPageSizeLimitExceeded fails the affected page only.
	ErrPageSizeLimitExceeded = errors.New("page size limit exceeded")
)

// ValidationError reports a malformed or disallowed URL. Fatal for the
// affected operation, never retried.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
}

// NavigationError wraps a failed page navigation. Retryable up to the
// configured attempt bound.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// IsSecurityError reports whether an error is an SSRF/rebinding rejection.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrSecurityValidation)
}

// IsMemoryError reports whether an error is the process memory ceiling.
func IsMemoryError(err error) bool {
	return errors.Is(err, ErrMemoryLimitExceeded)
}

// IsRetryable reports whether a page-level error should be retried.
// Cancellations are never retried, whatever their cause.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if CancelReasonOf(err) != CancelNone {
		return false
	}
	if errors.Is(err, ErrSecurityValidation) ||
		errors.Is(err, ErrMemoryLimitExceeded) ||
		errors.Is(err, ErrPageSizeLimitExceeded) {
		return false
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var navErr *NavigationError
	return errors.As(err, &navErr)
}
