package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
)

// TwoFactorServiceInterface defines the TOTP enrolment operations
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, userID string) (*models.TwoFactorSetup, error)
	Enable(ctx context.Context, userID, code string) error
	Verify(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, password string) error
	Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
}

// TwoFactorHandler handles two-factor enrolment for the authenticated user
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, logger: logger}
}

// TwoFactorCodeRequest carries a TOTP or backup code
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// DisableTwoFactorRequest requires the account password
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

// Setup generates a new secret and backup codes. The response is the only
// time the backup codes are shown.
// @Router /2fa/setup [post]
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w)
		return
	}

	setup, err := h.service.Setup(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

// Enable confirms enrolment with a code from the authenticator app
// @Router /2fa/enable [post]
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w)
		return
	}

	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Enable(r.Context(), claims.UserID, req.Code); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication enabled"})
}

// Verify checks a TOTP or backup code for the authenticated user
// @Router /2fa/verify [post]
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w)
		return
	}

	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Verify(r.Context(), claims.UserID, req.Code); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Code verified"})
}

// Disable turns two-factor authentication off after re-checking the password
// @Router /2fa/disable [post]
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w)
		return
	}

	var req DisableTwoFactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status reports whether two-factor authentication is set up and enabled
// @Router /2fa/status [get]
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w)
		return
	}

	status, err := h.service.Status(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
