package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
)

const timeBoxedTokenBytes = 16

// TimeBoxedTokenRepository stores single-use tokens by hash
type TimeBoxedTokenRepository interface {
	// Replace deletes every token for (OwnerID, Purpose) and inserts token, atomically
	Replace(ctx context.Context, token *models.TimeBoxedToken) error
	// MarkUsed sets used_at on the token if it is unused and expires_at >= now.
	// Returns models.ErrNotFound when no row qualified.
	MarkUsed(ctx context.Context, tokenHash string, purpose models.TokenPurpose, now time.Time) (*models.TimeBoxedToken, error)
	GetByHash(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.TimeBoxedToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TimeBoxedTokenConfig holds per-purpose lifetimes and the link base URL
type TimeBoxedTokenConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	// Retention is how long an expired token is kept before PurgeExpired removes it
	Retention            time.Duration
	BaseURL              string
}

// TTL returns the configured lifetime for purpose
func (c TimeBoxedTokenConfig) TTL(purpose models.TokenPurpose) time.Duration {
	switch purpose {
	case models.PurposePasswordReset:
		return c.PasswordResetTTL
	default:
		return c.EmailVerificationTTL
	}
}

// TimeBoxedTokenService issues and redeems single-use expiring tokens
type TimeBoxedTokenService struct {
	repo   TimeBoxedTokenRepository
	random *auth.RandomTokenProvider
	clock  auth.Clock
	config TimeBoxedTokenConfig
	logger *slog.Logger
}

// NewTimeBoxedTokenService creates a new TimeBoxedTokenService
func NewTimeBoxedTokenService(repo TimeBoxedTokenRepository, random *auth.RandomTokenProvider, clock auth.Clock, config TimeBoxedTokenConfig, logger *slog.Logger) *TimeBoxedTokenService {
	if config.EmailVerificationTTL <= 0 {
		config.EmailVerificationTTL = 24 * time.Hour
	}
	if config.PasswordResetTTL <= 0 {
		config.PasswordResetTTL = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if random == nil {
		random = auth.NewRandomTokenProvider(nil)
	}
	return &TimeBoxedTokenService{
		repo:   repo,
		random: random,
		clock:  clock,
		config: config,
		logger: logger,
	}
}

// HashToken returns the SHA-256 hex digest stored in place of a token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Issue creates a token for owner and purpose, superseding any earlier one.
// Only the hash is stored; the plaintext is returned once.
func (s *TimeBoxedTokenService) Issue(ctx context.Context, ownerID string, purpose models.TokenPurpose) (string, time.Time, error) {
	if !purpose.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown token purpose %q", models.ErrBadRequest, purpose)
	}

	plain, err := s.random.Hex(timeBoxedTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.clock.Now()
	token := &models.TimeBoxedToken{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Purpose:   purpose,
		TokenHash: HashToken(plain),
		ExpiresAt: now.Add(s.config.TTL(purpose)),
		CreatedAt: now,
	}

	if err := s.repo.Replace(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Info("time-boxed token issued",
		slog.String("owner_id", ownerID),
		slog.String("purpose", string(purpose)),
		slog.Time("expires_at", token.ExpiresAt))

	return plain, token.ExpiresAt, nil
}

// Redeem marks the token used and returns its owner. Exactly one of several
// concurrent redemptions of the same token succeeds.
func (s *TimeBoxedTokenService) Redeem(ctx context.Context, plain string, purpose models.TokenPurpose) (string, error) {
	if !isTokenShaped(plain) {
		return "", models.ErrTokenInvalid
	}

	hash := HashToken(plain)
	now := s.clock.Now()

	token, err := s.repo.MarkUsed(ctx, hash, purpose, now)
	if err == nil {
		return token.OwnerID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("failed to redeem token: %w", err)
	}

	// The conditional update matched nothing; work out why
	existing, err := s.repo.GetByHash(ctx, hash, purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrTokenInvalid
		}
		return "", fmt.Errorf("failed to look up token: %w", err)
	}

	switch {
	case existing.IsExpiredAt(now):
		return "", models.ErrTokenExpired
	case existing.IsUsed():
		return "", models.ErrTokenAlreadyUsed
	default:
		return "", models.ErrTokenInvalid
	}
}

// URL builds the link sent to the owner: <baseUrl>/auth/<verb>?token=<hex>
func (s *TimeBoxedTokenService) URL(purpose models.TokenPurpose, token string) string {
	base := strings.TrimRight(s.config.BaseURL, "/")
	return fmt.Sprintf("%s/auth/%s?token=%s", base, purpose.Verb(), url.QueryEscape(token))
}

// TTL returns the lifetime of tokens issued for purpose
func (s *TimeBoxedTokenService) TTL(purpose models.TokenPurpose) time.Duration {
	return s.config.TTL(purpose)
}

// PurgeExpired deletes tokens that expired more than Retention ago
func (s *TimeBoxedTokenService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clock.Now().Add(-s.config.Retention))
}

func isTokenShaped(token string) bool {
	if len(token) != timeBoxedTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
