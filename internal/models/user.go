package models

import (
	"time"
)

// User is the account aggregate as seen by the credential core.
// The password hash only changes through a password change or reset.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Role              string // e.g., "user", "admin"
	EmailVerified     bool
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Credential is the (user, password hash) pair checked at login
func (u *User) Credential() Credential {
	return Credential{UserID: u.ID, PasswordHash: u.PasswordHash}
}

// Credential identifies a user and their stored password hash
type Credential struct {
	UserID       string
	PasswordHash string
}
