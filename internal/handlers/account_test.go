package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/models"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/stretchr/testify/assert"
)

func newAccountHandler(v *handlers.MockEmailVerificationService, r *handlers.MockPasswordResetService) *handlers.AccountHandler {
	return handlers.NewAccountHandler(v, r, nil, handlers.TestLogger())
}

func TestVerifyEmail(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"expired", models.ErrTokenExpired, http.StatusUnauthorized, pkghttp.MsgTokenExpired},
		{"already used", models.ErrTokenAlreadyUsed, http.StatusBadRequest, pkghttp.MsgTokenAlreadyUsed},
		{"unknown token", models.ErrTokenInvalid, http.StatusBadRequest, pkghttp.MsgTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &handlers.MockEmailVerificationService{
				VerifyFunc: func(ctx context.Context, token string) (string, error) { return "", tt.err },
			}
			req := handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{Token: "tok"})
			w := httptest.NewRecorder()
			newAccountHandler(v, nil).VerifyEmail(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.message)
		})
	}

	t.Run("success", func(t *testing.T) {
		v := &handlers.MockEmailVerificationService{
			VerifyFunc: func(ctx context.Context, token string) (string, error) { return "user-1", nil },
		}
		req := handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{Token: "tok"})
		w := httptest.NewRecorder()
		newAccountHandler(v, nil).VerifyEmail(w, req)

		var resp handlers.VerifyEmailResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "user-1", resp.UserID)
	})
}

func TestResendVerification_AlwaysAccepted(t *testing.T) {
	var got string
	v := &handlers.MockEmailVerificationService{
		ResendFunc: func(ctx context.Context, email string) error {
			got = email
			return nil
		},
	}
	req := handlers.NewTestRequest(t, "POST", "/auth/resend-verification", handlers.EmailRequest{Email: "nobody@example.com"})
	w := httptest.NewRecorder()
	newAccountHandler(v, nil).ResendVerification(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusAccepted, nil)
	assert.Equal(t, "nobody@example.com", got)
}

func TestForgotPassword(t *testing.T) {
	var meta models.AuditMetadata
	r := &handlers.MockPasswordResetService{
		RequestFunc: func(ctx context.Context, email string, m models.AuditMetadata) error {
			meta = m
			return nil
		},
	}
	req := handlers.NewTestRequest(t, "POST", "/auth/forgot-password", handlers.EmailRequest{Email: "user@example.com"})
	req.RemoteAddr = "198.51.100.4:1234"
	w := httptest.NewRecorder()
	newAccountHandler(nil, r).ForgotPassword(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.Contains(t, resp.Message, "If the email is registered")
	assert.Equal(t, "198.51.100.4", meta["ip_address"])
}

func TestForgotPassword_InvalidEmail(t *testing.T) {
	req := handlers.NewTestRequest(t, "POST", "/auth/forgot-password", handlers.EmailRequest{Email: "nope"})
	w := httptest.NewRecorder()
	newAccountHandler(nil, &handlers.MockPasswordResetService{}).ForgotPassword(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.MsgValidationFailed)
}

func TestResetPassword(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"success", nil, http.StatusOK, ""},
		{"weak password", fmt.Errorf("%w: %w", models.ErrBadRequest, &pkgauth.PasswordValidationError{Errors: []string{"too short"}}), http.StatusBadRequest, pkghttp.MsgValidationFailed},
		{"expired", models.ErrTokenExpired, http.StatusUnauthorized, pkghttp.MsgTokenExpired},
		{"reused", models.ErrTokenAlreadyUsed, http.StatusBadRequest, pkghttp.MsgTokenAlreadyUsed},
		{"store failure", errors.New("db down"), http.StatusInternalServerError, pkghttp.MsgInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &handlers.MockPasswordResetService{
				ResetFunc: func(ctx context.Context, token, newPassword string, meta models.AuditMetadata) error {
					assert.Equal(t, "tok", token)
					assert.Equal(t, "N3w!Passw0rd", newPassword)
					return tt.err
				},
			}
			req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{
				Token:       "tok",
				NewPassword: "N3w!Passw0rd",
			})
			w := httptest.NewRecorder()
			newAccountHandler(nil, r).ResetPassword(w, req)

			if tt.err == nil {
				handlers.AssertJSONResponse(t, w, tt.status, nil)
				return
			}
			handlers.AssertErrorResponse(t, w, tt.status, tt.message)
		})
	}
}
