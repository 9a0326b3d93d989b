package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
)

// TwoFactorRepository persists TOTP factors, one per user
type TwoFactorRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorFactor, error)
	// SaveSetup stores a new, disabled factor, replacing an unfinished one.
	// Returns models.ErrConflict when an enabled factor exists.
	SaveSetup(ctx context.Context, factor *models.TwoFactorFactor) error
	// Enable switches on a disabled factor whose stored secret is still
	// verifiedSecret. Returns models.ErrNotFound without a factor and
	// models.ErrConflict when it is already enabled or was set up again.
	Enable(ctx context.Context, userID, verifiedSecret string, at time.Time) error
	// Disable switches off an enabled factor. Returns models.ErrNotFound
	// without a factor and models.ErrConflict when it is already disabled.
	Disable(ctx context.Context, userID string, at time.Time) error
	// ConsumeBackupCode removes hash from the unconsumed set. It reports
	// false when the hash was not present.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
}

// TwoFactorService manages TOTP enrolment and second-factor checks
type TwoFactorService struct {
	repo   TwoFactorRepository
	users  UserRepository
	hasher PasswordHasher
	engine *auth.TOTPEngine
	audit  AuditRecorder
	clock  auth.Clock
	logger *slog.Logger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo TwoFactorRepository, users UserRepository, hasher PasswordHasher, engine *auth.TOTPEngine, audit AuditRecorder, clock auth.Clock, logger *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		repo:   repo,
		users:  users,
		hasher: hasher,
		engine: engine,
		audit:  audit,
		clock:  clock,
		logger: logger,
	}
}

// Setup generates a secret and backup codes for userID and stores them
// disabled. The plaintext backup codes are only ever returned here.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*models.TwoFactorSetup, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get two-factor factor", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if existing != nil && existing.IsEnabled {
		return nil, models.ErrConflict
	}

	secret, err := s.engine.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	codes, err := s.engine.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	uri := s.engine.ProvisioningURI(user.Email, secret)
	qr, err := s.engine.QRCodeDataURL(uri)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	factor := &models.TwoFactorFactor{
		UserID:           userID,
		Secret:           secret,
		BackupCodeHashes: auth.HashBackupCodes(codes),
		IsEnabled:        false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.SaveSetup(ctx, factor); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to save two-factor setup", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(ctx, models.AuditEventTwoFactorSetup, models.SeverityLow, userID, "two-factor setup started", nil)

	return &models.TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCode:          qr,
		BackupCodes:     codes,
	}, nil
}

// Enable turns the factor on once the user proves they hold the secret
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	factor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get two-factor factor", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if factor.IsEnabled {
		return models.ErrConflict
	}

	if !s.engine.VerifyCode(factor.Secret, strings.TrimSpace(code)) {
		s.audit.Record(ctx, models.AuditEventTwoFactorFailed, models.SeverityMedium, userID, "invalid code while enabling two-factor", nil)
		return models.ErrInvalidCode
	}

	if err := s.repo.Enable(ctx, userID, factor.Secret, s.clock.Now()); err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			return err
		}
		s.logger.Error("failed to enable two-factor", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor enabled", slog.String("user_id", userID))
	s.audit.Record(ctx, models.AuditEventTwoFactorEnabled, models.SeverityMedium, userID, "two-factor enabled", nil)
	return nil
}

// Verify accepts a current TOTP code or an unused backup code. A backup code
// is consumed by the store so it can succeed only once.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) error {
	factor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnabled
		}
		s.logger.Error("failed to get two-factor factor", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !factor.IsEnabled {
		return models.ErrNotEnabled
	}

	code = strings.TrimSpace(code)
	if s.engine.VerifyCode(factor.Secret, code) {
		s.audit.Record(ctx, models.AuditEventTwoFactorVerified, models.SeverityLow, userID, "two-factor code accepted", nil)
		return nil
	}

	if hash, ok := auth.MatchBackupCode(factor.BackupCodeHashes, code); ok {
		consumed, err := s.repo.ConsumeBackupCode(ctx, userID, hash)
		if err != nil {
			s.logger.Error("failed to consume backup code", slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}
		if consumed {
			remaining := len(factor.BackupCodeHashes) - 1
			s.audit.Record(ctx, models.AuditEventBackupCodeUsed, models.SeverityMedium, userID, "backup code used",
				models.AuditMetadata{"remaining_backup_codes": remaining})
			return nil
		}
	}

	s.audit.Record(ctx, models.AuditEventTwoFactorFailed, models.SeverityMedium, userID, "invalid two-factor code", nil)
	return models.ErrInvalidCode
}

// Disable turns the factor off after re-checking the account password
func (s *TwoFactorService) Disable(ctx context.Context, userID, password string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.audit.Record(ctx, models.AuditEventTwoFactorFailed, models.SeverityHigh, userID, "wrong password while disabling two-factor", nil)
		return models.ErrInvalidCredentials
	}

	factor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnabled
		}
		s.logger.Error("failed to get two-factor factor", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !factor.IsEnabled {
		return models.ErrNotEnabled
	}

	if err := s.repo.Disable(ctx, userID, s.clock.Now()); err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnabled
		}
		s.logger.Error("failed to disable two-factor", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor disabled", slog.String("user_id", userID))
	s.audit.Record(ctx, models.AuditEventTwoFactorDisabled, models.SeverityHigh, userID, "two-factor disabled", nil)
	return nil
}

// Status reports whether the factor is set up and enabled
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	factor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.TwoFactorStatus{}, nil
		}
		s.logger.Error("failed to get two-factor factor", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return &models.TwoFactorStatus{
		IsSetUp:              true,
		IsEnabled:            factor.IsEnabled,
		EnabledAt:            factor.EnabledAt,
		RemainingBackupCodes: len(factor.BackupCodeHashes),
	}, nil
}

// IsEnabled reports whether logins for userID need a second factor
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	factor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return factor.IsEnabled, nil
}

func (s *TwoFactorService) getUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}
