package auth

import "errors"

// Error taxonomy shared by the credential exchanger and the session manager.
// Callers classify with errors.Is; user-facing text comes from Message.
var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailUnconfirmed is returned when the account exists but is not verified.
	ErrEmailUnconfirmed = errors.New("email not confirmed")

	// ErrRateLimited is returned when the provider throttles attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrBackendUnavailable is a transport failure or a 5xx from the backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTokenRefreshFailed is terminal for the session.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrProfileFetchFailed is non-fatal; cached profile fields are kept.
	ErrProfileFetchFailed = errors.New("profile fetch failed")

	// ErrOAuthFailed is returned when the provider redirect carried an error.
	ErrOAuthFailed = errors.New("oauth login failed")

	// ErrUserAlreadyRegistered is returned by signup for an existing email.
	ErrUserAlreadyRegistered = errors.New("user already registered")

	// ErrWeakPassword is returned when the provider rejects the password policy.
	ErrWeakPassword = errors.New("weak password")

	// ErrInvalidRecoveryToken is returned when a recovery token is expired or wrong.
	ErrInvalidRecoveryToken = errors.New("invalid recovery token")

	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)
