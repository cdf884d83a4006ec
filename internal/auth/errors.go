package auth

import "errors"

// Sentinel errors returned by the auth core. Credential failures share one
// value so callers cannot distinguish unknown emails from wrong passwords.
var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrAccountInactive    = errors.New("auth: account is inactive")
	ErrDuplicateEmail     = errors.New("auth: email already registered")
	ErrWeakPassword       = errors.New("auth: password does not meet policy")

	// ErrInvalidToken covers bad signatures, malformed payloads and expiry.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrSessionInvalid means the token verified but its session is
	// revoked, expired or does not match the presented token.
	ErrSessionInvalid = errors.New("auth: session revoked or expired")

	ErrResetTokenInvalid = errors.New("auth: reset token invalid")
	ErrResetTokenExpired = errors.New("auth: reset token expired")
	ErrResetTokenUsed    = errors.New("auth: reset token already used")

	ErrUnknownRole     = errors.New("auth: unknown role")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")

	ErrNotFound = errors.New("auth: not found")
)
