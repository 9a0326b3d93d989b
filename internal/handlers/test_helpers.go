package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access claims to the request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.AccessClaims{
		UserID: userID,
		Email:  email,
		Role:   "user",
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.True(t, resp.Error)
	assert.Equal(t, expectedMessage, resp.Message, "Error message mismatch")
	assert.Equal(t, expectedStatus, resp.Code)
}

// TestLogger discards all output
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc   func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	RefreshFunc func(ctx context.Context, refreshToken string, meta models.AuditMetadata) (*services.AuthResponse, error)
	LogoutFunc  func(ctx context.Context, userID string, meta models.AuditMetadata)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta models.AuditMetadata) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) Logout(ctx context.Context, userID string, meta models.AuditMetadata) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, userID, meta)
	}
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	RegisterFunc   func(ctx context.Context, email, password string) (*services.UserResponse, error)
	GetProfileFunc func(ctx context.Context, id string) (*services.UserResponse, error)
}

func (m *MockUserService) Register(ctx context.Context, email, password string) (*services.UserResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password)
}

func (m *MockUserService) GetProfile(ctx context.Context, id string) (*services.UserResponse, error) {
	if m.GetProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProfileFunc(ctx, id)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	SetupFunc   func(ctx context.Context, userID string) (*models.TwoFactorSetup, error)
	EnableFunc  func(ctx context.Context, userID, code string) error
	VerifyFunc  func(ctx context.Context, userID, code string) error
	DisableFunc func(ctx context.Context, userID, password string) error
	StatusFunc  func(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, userID string) (*models.TwoFactorSetup, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.SetupFunc(ctx, userID)
}

func (m *MockTwoFactorService) Enable(ctx context.Context, userID, code string) error {
	if m.EnableFunc == nil {
		return models.ErrInvalidCode
	}
	return m.EnableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Verify(ctx context.Context, userID, code string) error {
	if m.VerifyFunc == nil {
		return models.ErrInvalidCode
	}
	return m.VerifyFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc == nil {
		return models.ErrNotEnabled
	}
	return m.DisableFunc(ctx, userID, password)
}

func (m *MockTwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	if m.StatusFunc == nil {
		return &models.TwoFactorStatus{}, nil
	}
	return m.StatusFunc(ctx, userID)
}

// MockEmailVerificationService implements EmailVerificationServiceInterface for testing
type MockEmailVerificationService struct {
	VerifyFunc func(ctx context.Context, token string) (string, error)
	ResendFunc func(ctx context.Context, email string) error
}

func (m *MockEmailVerificationService) Verify(ctx context.Context, token string) (string, error) {
	if m.VerifyFunc == nil {
		return "", models.ErrTokenInvalid
	}
	return m.VerifyFunc(ctx, token)
}

func (m *MockEmailVerificationService) Resend(ctx context.Context, email string) error {
	if m.ResendFunc == nil {
		return nil
	}
	return m.ResendFunc(ctx, email)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestFunc func(ctx context.Context, email string, meta models.AuditMetadata) error
	ResetFunc   func(ctx context.Context, token, newPassword string, meta models.AuditMetadata) error
}

func (m *MockPasswordResetService) Request(ctx context.Context, email string, meta models.AuditMetadata) error {
	if m.RequestFunc == nil {
		return nil
	}
	return m.RequestFunc(ctx, email, meta)
}

func (m *MockPasswordResetService) Reset(ctx context.Context, token, newPassword string, meta models.AuditMetadata) error {
	if m.ResetFunc == nil {
		return models.ErrTokenInvalid
	}
	return m.ResetFunc(ctx, token, newPassword, meta)
}
