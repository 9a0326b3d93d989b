package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
)

// Login failure reasons beyond those reported by CredentialVerifier
const (
	ReasonTwoFactorRequired = "two_factor_required"
	ReasonInvalidTwoFactor  = "invalid_two_factor_code"
)

// TwoFactorVerifier is the part of TwoFactorService the login flow needs
type TwoFactorVerifier interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) error
}

// LoginInput carries a login attempt and the request it came from
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
	IPAddress     string
	UserAgent     string
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"` // access token lifetime in seconds
	User         *UserResponse `json:"user"`
}

// AuthService handles authentication business logic
type AuthService struct {
	users     UserRepository
	verifier  *CredentialVerifier
	tm        *auth.TokenManager
	twoFactor TwoFactorVerifier
	audit     AuditRecorder
	logger    *slog.Logger
}

// NewAuthService creates a new AuthService. twoFactor may be nil, in which
// case logins never require a second factor.
func NewAuthService(users UserRepository, verifier *CredentialVerifier, tm *auth.TokenManager, twoFactor TwoFactorVerifier, audit AuditRecorder, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:     users,
		verifier:  verifier,
		tm:        tm,
		twoFactor: twoFactor,
		audit:     audit,
		logger:    logger,
	}
}

// Login authenticates a user and returns tokens. Callers only learn that the
// credentials were wrong; the audit event carries the precise reason.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	meta := models.NewRequestMetadata(in.IPAddress, in.UserAgent)

	user, reason, err := s.verifier.Verify(ctx, in.Email, in.Password)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) {
			return nil, err
		}
		actorID := ""
		if user != nil {
			actorID = user.ID
		}
		meta["reason"] = reason
		s.logger.Info("login failed: invalid credentials")
		s.audit.Record(ctx, models.AuditEventLoginFailed, models.SeverityMedium, actorID, "login failed", meta)
		return nil, models.ErrInvalidCredentials
	}

	if err := s.checkSecondFactor(ctx, user, in.TwoFactorCode, meta); err != nil {
		return nil, err
	}

	pair, err := s.tm.IssueTokenPair(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.audit.Record(ctx, models.AuditEventLoginSuccess, models.SeverityLow, user.ID, "login succeeded", meta)

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.tm.AccessTokenExpiry().Seconds()),
		User:         NewUserResponse(user),
	}, nil
}

func (s *AuthService) checkSecondFactor(ctx context.Context, user *models.User, code string, meta models.AuditMetadata) error {
	if s.twoFactor == nil {
		return nil
	}

	enabled, err := s.twoFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to check two-factor state", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !enabled {
		return nil
	}

	if strings.TrimSpace(code) == "" {
		meta["reason"] = ReasonTwoFactorRequired
		s.audit.Record(ctx, models.AuditEventLoginFailed, models.SeverityLow, user.ID, "second factor required", meta)
		return models.ErrTwoFactorRequired
	}

	if err := s.twoFactor.Verify(ctx, user.ID, code); err != nil {
		if errors.Is(err, models.ErrInvalidCode) {
			meta["reason"] = ReasonInvalidTwoFactor
			s.audit.Record(ctx, models.AuditEventLoginFailed, models.SeverityMedium, user.ID, "login failed", meta)
			return models.ErrInvalidCode
		}
		return err
	}
	return nil
}

// Refresh issues a new token pair from a valid refresh token. The user is
// looked up again so deleted accounts cannot keep refreshing.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta models.AuditMetadata) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrTokenInvalid
	}

	claims, err := s.tm.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token rejected", slog.Any("error", err))
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.tm.IssueTokenPair(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(ctx, models.AuditEventTokenRefreshed, models.SeverityLow, user.ID, "token pair refreshed", meta)

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.tm.AccessTokenExpiry().Seconds()),
		User:         NewUserResponse(user),
	}, nil
}

// Logout records the logout. Tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID string, meta models.AuditMetadata) {
	s.logger.Info("user logged out", slog.String("user_id", userID))
	s.audit.Record(ctx, models.AuditEventLogout, models.SeverityLow, userID, "user logged out", meta)
}
