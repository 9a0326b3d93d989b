package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/keystone/internal/models"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

// PasswordResetService runs the forgotten-password flow
type PasswordResetService struct {
	tokens *TimeBoxedTokenService
	users  UserRepository
	hasher PasswordHasher
	mailer Mailer
	audit  AuditRecorder
	logger *slog.Logger
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(tokens *TimeBoxedTokenService, users UserRepository, hasher PasswordHasher, mailer Mailer, audit AuditRecorder, logger *slog.Logger) *PasswordResetService {
	return &PasswordResetService{
		tokens: tokens,
		users:  users,
		hasher: hasher,
		mailer: mailer,
		audit:  audit,
		logger: logger,
	}
}

// Request mails a reset link when email belongs to an account. Unknown
// addresses succeed silently.
func (s *PasswordResetService) Request(ctx context.Context, email string, meta models.AuditMetadata) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email", slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		s.logger.Error("failed to look up user for password reset", slog.Any("error", err))
		return nil
	}

	token, _, err := s.tokens.Issue(ctx, user.ID, models.PurposePasswordReset)
	if err != nil {
		s.logger.Error("failed to issue password reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	link := s.tokens.URL(models.PurposePasswordReset, token)
	if err := s.mailer.Send(ctx, passwordResetMessage(user.Email, link, s.tokens.TTL(models.PurposePasswordReset))); err != nil {
		s.logger.Error("failed to send password reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	s.audit.Record(ctx, models.AuditEventPasswordResetRequested, models.SeverityMedium, user.ID, "password reset requested", meta)
	return nil
}

// Reset sets a new password for the owner of token. The password policy is
// checked before the token is spent so a weak password does not burn it.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string, meta models.AuditMetadata) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	userID, err := s.tokens.Redeem(ctx, token, models.PurposePasswordReset)
	if err != nil {
		s.logger.Info("password reset rejected", slog.Any("error", err))
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("user_id", userID), slog.Any("error", err))
		return err
	}

	if err := s.users.UpdatePassword(ctx, userID, hash, s.tokens.clock.Now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password reset", slog.String("user_id", userID))
	s.audit.Record(ctx, models.AuditEventPasswordChange, models.SeverityHigh, userID, "password changed by reset link", meta)
	return nil
}
