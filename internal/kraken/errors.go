package kraken

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the exchange error taxonomy. Callers classify with
// errors.Is to pick a recovery strategy.
var (
	// ErrInvalidNonce means the supplied nonce was not strictly greater than
	// one the exchange has already seen. Recoverable: jump the nonce source
	// forward and retry once.
	ErrInvalidNonce = errors.New("kraken: invalid nonce")

	// ErrRateLimited means the account exceeded its call budget. Back off via
	// the circuit breaker; do not retry immediately.
	ErrRateLimited = errors.New("kraken: rate limited")

	// ErrAuthDenied means the credentials lack a required permission or are
	// invalid. Not recoverable automatically; surface to the operator.
	ErrAuthDenied = errors.New("kraken: authentication denied")

	// ErrServiceUnavailable covers exchange-side maintenance/busy responses.
	// Recoverable with backoff.
	ErrServiceUnavailable = errors.New("kraken: service unavailable")
)

// APIError carries the raw error strings returned by the exchange
type APIError struct {
	Errors []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kraken API error: %s", strings.Join(e.Errors, ", "))
}

// classifyAPIErrors maps Kraken's error strings onto the taxonomy. The first
// matching class wins; unknown errors are returned as a bare *APIError.
func classifyAPIErrors(errs []string) error {
	apiErr := &APIError{Errors: errs}

	for _, e := range errs {
		switch {
		case strings.Contains(e, "Invalid nonce"):
			return fmt.Errorf("%w: %s", ErrInvalidNonce, apiErr)
		case strings.Contains(e, "Rate limit exceeded"),
			strings.Contains(e, "Too many requests"):
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr)
		case strings.Contains(e, "Permission denied"),
			strings.Contains(e, "Invalid key"),
			strings.Contains(e, "Invalid signature"),
			strings.Contains(e, "Invalid session"):
			return fmt.Errorf("%w: %s", ErrAuthDenied, apiErr)
		case strings.Contains(e, "Temporary lockout"):
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr)
		case strings.Contains(e, "Unavailable"),
			strings.Contains(e, "Busy"),
			strings.Contains(e, "Internal error"):
			return fmt.Errorf("%w: %s", ErrServiceUnavailable, apiErr)
		}
	}

	return apiErr
}

// isRetryable reports whether an error class may be retried locally with
// backoff. Rate limits are excluded: they are handed to the breaker instead
// of being hammered in a retry loop.
func isRetryable(err error) bool {
	if errors.Is(err, ErrAuthDenied) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInvalidNonce) {
		return false
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	// Anything else is a transport failure (timeout, DNS, reset)
	return true
}
