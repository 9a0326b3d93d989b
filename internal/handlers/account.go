package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/keystone/internal/models"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
)

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	Verify(ctx context.Context, token string) (string, error)
	Resend(ctx context.Context, email string) error
}

// PasswordResetServiceInterface defines the interface for password reset
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, email string, meta models.AuditMetadata) error
	Reset(ctx context.Context, token, newPassword string, meta models.AuditMetadata) error
}

// AccountHandler handles the unauthenticated email-verification and
// password-reset flows
type AccountHandler struct {
	verification EmailVerificationServiceInterface
	reset        PasswordResetServiceInterface
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(verification EmailVerificationServiceInterface, reset PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		verification: verification,
		reset:        reset,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// EmailRequest carries only an email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// VerifyEmailResponse is returned once an address is confirmed
type VerifyEmailResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

const (
	resendAcceptedMessage = "If the email is registered and unverified, a new verification link has been sent."
	resetAcceptedMessage  = "If the email is registered, a password reset link has been sent."
)

// VerifyEmail redeems an email verification token
// @Router /auth/verify-email [post]
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	userID, err := h.verification.Verify(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyEmailResponse{
		Message: "Email verified successfully. Please log in.",
		UserID:  userID,
	})
}

// ResendVerification sends a fresh verification link. The response never
// reveals whether the address exists.
// @Router /auth/resend-verification [post]
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.verification.Resend(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: resendAcceptedMessage})
}

// ForgotPassword starts a password reset. The response never reveals
// whether the address exists.
// @Router /auth/forgot-password [post]
func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	meta := pkghttp.Meta(r, h.ipConfig)
	if err := h.reset.Request(r.Context(), req.Email, models.NewRequestMetadata(meta.IPAddress, meta.UserAgent)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: resetAcceptedMessage})
}

// ResetPassword completes a password reset with the emailed token
// @Router /auth/reset-password [post]
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	meta := pkghttp.Meta(r, h.ipConfig)
	if err := h.reset.Reset(r.Context(), req.Token, req.NewPassword, models.NewRequestMetadata(meta.IPAddress, meta.UserAgent)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated. Please log in."})
}
