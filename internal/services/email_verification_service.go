package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/keystone/internal/models"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	tokens *TimeBoxedTokenService
	users  UserRepository
	mailer Mailer
	audit  AuditRecorder
	logger *slog.Logger
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(tokens *TimeBoxedTokenService, users UserRepository, mailer Mailer, audit AuditRecorder, logger *slog.Logger) *EmailVerificationService {
	return &EmailVerificationService{
		tokens: tokens,
		users:  users,
		mailer: mailer,
		audit:  audit,
		logger: logger,
	}
}

// Send issues a verification token for userID and mails the link to email.
// Any earlier verification token for the user stops working.
func (s *EmailVerificationService) Send(ctx context.Context, userID, email string) error {
	token, _, err := s.tokens.Issue(ctx, userID, models.PurposeEmailVerification)
	if err != nil {
		s.logger.Error("failed to issue verification token", slog.String("user_id", userID), slog.Any("error", err))
		return err
	}

	link := s.tokens.URL(models.PurposeEmailVerification, token)
	msg := verificationMessage(email, link, s.tokens.TTL(models.PurposeEmailVerification))
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", userID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent", slog.String("user_id", userID))
	return nil
}

// Verify redeems token and marks its owner's email as verified
func (s *EmailVerificationService) Verify(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Redeem(ctx, token, models.PurposeEmailVerification)
	if err != nil {
		s.logger.Info("email verification rejected", slog.Any("error", err))
		return "", err
	}

	if err := s.users.MarkEmailVerified(ctx, userID, s.tokens.clock.Now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrTokenInvalid
		}
		s.logger.Error("failed to mark email verified", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.logger.Info("email verified", slog.String("user_id", userID))
	s.audit.Record(ctx, models.AuditEventEmailVerified, models.SeverityLow, userID, "email address verified", nil)
	return userID, nil
}

// Resend sends a fresh verification link. It always returns nil so callers
// cannot tell which addresses are registered.
func (s *EmailVerificationService) Resend(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		}
		return nil
	}

	if user.EmailVerified {
		s.logger.Info("resend skipped: email already verified", slog.String("user_id", user.ID))
		return nil
	}

	if err := s.Send(ctx, user.ID, user.Email); err != nil {
		s.logger.Error("resend failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}
