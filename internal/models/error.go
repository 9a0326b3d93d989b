package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and token errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenAlreadyUsed   = errors.New("token already used")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrHashingFailure     = errors.New("password hashing failure")

	// Second factor errors
	ErrNotEnabled        = errors.New("two-factor authentication not enabled")
	ErrInvalidCode       = errors.New("invalid two-factor code")
	ErrTwoFactorRequired = errors.New("two-factor code required")
	ErrInvalidTOTPSecret = errors.New("invalid TOTP secret")
)
