package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
)

// Failure reasons reported to the audit sink. Callers only ever see
// models.ErrInvalidCredentials.
const (
	ReasonUserNotFound    = "user_not_found"
	ReasonInvalidPassword = "invalid_password"
	ReasonEmptyEmail      = "empty_email"
)

// dummyPassword is hashed once at startup so lookups for unknown users still
// pay for a bcrypt comparison
const dummyPassword = "keystone-credential-timing-equaliser"

// CredentialVerifier checks an email and password pair
type CredentialVerifier struct {
	users     UserRepository
	hasher    PasswordHasher
	timing    *auth.TimingDelay
	dummyHash string
	logger    *slog.Logger
}

// NewCredentialVerifier creates a CredentialVerifier. timing may be nil.
func NewCredentialVerifier(users UserRepository, hasher PasswordHasher, timing *auth.TimingDelay, logger *slog.Logger) (*CredentialVerifier, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &CredentialVerifier{
		users:     users,
		hasher:    hasher,
		timing:    timing,
		dummyHash: dummyHash,
		logger:    logger,
	}, nil
}

// Verify returns the user when password matches. On mismatch it returns
// models.ErrInvalidCredentials together with the precise reason, which must
// only be used for auditing.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*models.User, string, error) {
	start := time.Now()

	email = NormalizeEmail(email)
	if email == "" {
		v.hasher.Verify(password, v.dummyHash)
		v.wait(ctx, start, false)
		return nil, ReasonEmptyEmail, models.ErrInvalidCredentials
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			v.logger.Error("failed to get user by email", slog.Any("error", err))
			return nil, "", models.ErrInternalServer
		}
		v.hasher.Verify(password, v.dummyHash)
		v.wait(ctx, start, false)
		return nil, ReasonUserNotFound, models.ErrInvalidCredentials
	}

	if !v.hasher.Verify(password, user.PasswordHash) {
		v.wait(ctx, start, false)
		return user, ReasonInvalidPassword, models.ErrInvalidCredentials
	}

	v.wait(ctx, start, true)
	return user, "", nil
}

func (v *CredentialVerifier) wait(ctx context.Context, start time.Time, success bool) {
	if v.timing != nil {
		v.timing.WaitFrom(ctx, start, success)
	}
}
