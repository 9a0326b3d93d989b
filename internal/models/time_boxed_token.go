package models

import (
	"time"
)

// TokenPurpose scopes a time-boxed token to a single flow
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// Verb is the path segment used in links for this purpose
func (p TokenPurpose) Verb() string {
	switch p {
	case PurposeEmailVerification:
		return "verify-email"
	case PurposePasswordReset:
		return "reset-password"
	default:
		return string(p)
	}
}

// Valid reports whether p is a known purpose
func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// TimeBoxedToken is a single-use, expiring token. Only the SHA-256 hash of the
// token value is stored.
type TimeBoxedToken struct {
	ID        string
	OwnerID   string
	Purpose   TokenPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpiredAt reports whether the token is past its expiry at now
func (t *TimeBoxedToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsed checks if the token has already been redeemed
func (t *TimeBoxedToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsActiveAt reports whether the token is unused and unexpired at now
func (t *TimeBoxedToken) IsActiveAt(now time.Time) bool {
	return !t.IsUsed() && !t.IsExpiredAt(now)
}
