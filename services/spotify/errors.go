package spotify

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no SP_DC session credential is set. Terminal until the operator fixes it.
	ErrNotConfigured = errors.New("SP_DC is not configured")

	// ErrUpstreamUnavailable covers every retryable failure talking to Spotify or the secret registry
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrServerTimeUnavailable is an ErrUpstreamUnavailable raised by the clock endpoint
	ErrServerTimeUnavailable = fmt.Errorf("server time unavailable: %w", ErrUpstreamUnavailable)

	ErrInvalidSecretFormat = errors.New("invalid secret format")

	// ErrCredentialRejected means the token endpoint answered with an anonymous token
	ErrCredentialRejected = errors.New("SP_DC credential was rejected, please correct it")

	ErrCacheRaceNotFound = errors.New("token record vanished after refresh")

	ErrTokenNotFound = errors.New("token record not found")
	ErrPersistence   = errors.New("failed to persist token record")

	ErrLyricsNotFound = errors.New("lyrics for this track were not found on Spotify")
	ErrRateLimited    = errors.New("rate limited by Spotify, please try again later")

	// ErrRequestAbandoned wraps a lyrics failure that happened after the caller's context ended
	ErrRequestAbandoned = errors.New("request abandoned by caller")
)

// AuthError is returned by TokenManager when a bearer token could not be produced.
type AuthError struct {
	Reason string // Short description of the failing step
	Err    error  // Underlying cause, one of the sentinels above
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// IsAuthError returns true if the error is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// UpstreamError keeps the remote cause of a failed call to Spotify or the secret registry.
// It always matches ErrUpstreamUnavailable.
type UpstreamError struct {
	Operation  string // e.g. "token exchange", "fetch secrets"
	StatusCode int    // HTTP status, 0 when the request never completed
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s failed with status %d: %v", e.Operation, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Operation)
	}
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamUnavailable}
	}
	return []error{ErrUpstreamUnavailable, e.Err}
}

func newUpstreamError(operation string, statusCode int, err error) *UpstreamError {
	return &UpstreamError{Operation: operation, StatusCode: statusCode, Err: err}
}
