package auth

import (
	"errors"
	"time"
)

// Sentinel errors for credential and identity resolution failures. Messages
// are safe to surface to callers.
var (
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrCredentialDisabled     = errors.New("credential disabled")
	ErrCredentialExpired      = errors.New("credential expired")
	ErrNotFound               = errors.New("credential not found")
	ErrForbidden              = errors.New("not authorized for this credential")
	ErrQuotaExceeded          = errors.New("maximum number of active credentials reached")
	ErrAuthenticationRequired = errors.New("authentication required")
)

// RateLimitError reports a denied admission decision for an otherwise valid
// identity.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded"
}

// IsAuthError reports whether err belongs to the authentication taxonomy, as
// opposed to an internal failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrCredentialDisabled) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrAuthenticationRequired)
}
