package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/ratelimit"
	"github.com/BradenHooton/keystone/internal/repositories/memory"
	"github.com/BradenHooton/keystone/internal/routes"
	"github.com/BradenHooton/keystone/internal/services"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Sup3r$ecretPassw0rd!"
)

var tokenPattern = regexp.MustCompile(`token=([^\s"<&]+)`)

// outbox records every message sent
type outbox struct {
	mu   sync.Mutex
	msgs []services.Message
}

func (o *outbox) Send(_ context.Context, msg services.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no email sent")
	m := tokenPattern.FindStringSubmatch(o.msgs[len(o.msgs)-1].Text)
	require.Len(t, m, 2, "no token link in email")
	token, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return token
}

type app struct {
	router http.Handler
	clock  *auth.FixedClock
	engine *auth.TOTPEngine
	mail   *outbox
	audit  *services.AuditService
}

func newApp(t *testing.T, authRule ratelimit.Rule) *app {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := auth.NewFixedClock(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	random := auth.NewRandomTokenProvider(nil)

	users := memory.NewUserRepository()
	hasher := pkgauth.NewPasswordHasher(4)
	engine := auth.NewTOTPEngine("Keystone", clock, random)
	mail := &outbox{}

	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "access-secret-for-tests-0123456789abcdef",
		RefreshSecret: "refresh-secret-for-tests-0123456789abcdef",
	}, clock, random)
	require.NoError(t, err)

	audit := services.NewAuditService(memory.NewAuditRepository(), pkglogger.NewAuditLogger(logger), logger, clock, 64)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })

	tokens := services.NewTimeBoxedTokenService(memory.NewTimeBoxedTokenRepository(), random, clock, services.TimeBoxedTokenConfig{
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		BaseURL:              "https://app.example.com",
	}, logger)

	verification := services.NewEmailVerificationService(tokens, users, mail, audit, logger)
	reset := services.NewPasswordResetService(tokens, users, hasher, mail, audit, logger)
	userService := services.NewUserService(users, hasher, verification, clock, logger)
	twoFactor := services.NewTwoFactorService(memory.NewTwoFactorRepository(), users, hasher, engine, audit, clock, logger)

	verifier, err := services.NewCredentialVerifier(users, hasher, nil, logger)
	require.NoError(t, err)
	authService := services.NewAuthService(users, verifier, tm, twoFactor, audit, logger)

	generous := ratelimit.Rule{Limit: 1000, Window: time.Minute}
	apiRule, resetRule := generous, generous
	apiRule.Name, resetRule.Name = "api", "reset"

	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:      handlers.NewAuthHandler(authService, userService, nil, logger),
		TwoFactor: handlers.NewTwoFactorHandler(twoFactor, logger),
		Account:   handlers.NewAccountHandler(verification, reset, nil, logger),
		Health:    handlers.NewHealthHandler(nil),
		Verifier:  tm,
		Limiter:   ratelimit.NewFixedWindowLimiter(ratelimit.NewMemoryWindowStore(), clock),
		Rules:     routes.RateLimitRules{Auth: authRule, API: apiRule, Reset: resetRule},
		Logger:    logger,
	})

	return &app{router: router, clock: clock, engine: engine, mail: mail, audit: audit}
}

func defaultAuthRule() ratelimit.Rule {
	return ratelimit.Rule{Name: "auth", Limit: 1000, Window: time.Minute}
}

func (a *app) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), w.Body.String())
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp pkghttp.ErrorResponse
	decode(t, w, &resp)
	return resp.Message
}

func (a *app) register(t *testing.T) {
	t.Helper()
	w := a.do(t, "POST", "/auth/register", "", handlers.RegisterRequest{Email: testEmail, Password: testPassword})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func (a *app) login(t *testing.T, password, code string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, "POST", "/auth/login", "", handlers.LoginRequest{Email: testEmail, Password: password, TwoFactorCode: code})
}

func (a *app) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := a.engine.ComputeCode(secret, auth.StepAt(a.clock.Now()))
	require.NoError(t, err)
	return code
}

func TestRegisterVerifyAndLogin(t *testing.T) {
	a := newApp(t, defaultAuthRule())
	a.register(t)

	w := a.do(t, "POST", "/auth/verify-email", "", handlers.VerifyEmailRequest{Token: a.mail.lastToken(t)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The same link cannot be used twice
	w = a.do(t, "POST", "/auth/verify-email", "", handlers.VerifyEmailRequest{Token: a.mail.lastToken(t)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, pkghttp.MsgTokenAlreadyUsed, errorMessage(t, w))

	w = a.login(t, testPassword, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tokens services.AuthResponse
	decode(t, w, &tokens)
	require.NotEmpty(t, tokens.AccessToken)

	w = a.do(t, "GET", "/users/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me services.UserResponse
	decode(t, w, &me)
	assert.Equal(t, testEmail, me.Email)
	assert.True(t, me.EmailVerified)

	// A refresh token is not accepted as a bearer credential
	w = a.do(t, "GET", "/users/me", tokens.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, "POST", "/auth/refresh", "", handlers.RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, "POST", "/auth/logout", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogin_WrongPasswordAndUnknownUserLookTheSame(t *testing.T) {
	a := newApp(t, defaultAuthRule())
	a.register(t)

	wrong := a.login(t, "Wr0ng$Password!!", "")
	unknown := a.do(t, "POST", "/auth/login", "", handlers.LoginRequest{Email: "nobody@example.com", Password: testPassword})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestTwoFactorLoginFlow(t *testing.T) {
	a := newApp(t, defaultAuthRule())
	a.register(t)

	w := a.login(t, testPassword, "")
	require.Equal(t, http.StatusOK, w.Code)
	var tokens services.AuthResponse
	decode(t, w, &tokens)

	w = a.do(t, "POST", "/2fa/setup", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var setup models.TwoFactorSetup
	decode(t, w, &setup)
	require.Len(t, setup.BackupCodes, 10)

	w = a.do(t, "POST", "/2fa/enable", tokens.AccessToken, handlers.TwoFactorCodeRequest{Code: a.currentCode(t, setup.Secret)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	a.clock.Advance(30 * time.Second)

	w = a.login(t, testPassword, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, pkghttp.MsgTwoFactorRequired, errorMessage(t, w))

	w = a.login(t, testPassword, "000000")
	if a.currentCode(t, setup.Secret) != "000000" {
		assert.Equal(t, pkghttp.MsgInvalidTwoFactor, errorMessage(t, w))
	}

	w = a.login(t, testPassword, a.currentCode(t, setup.Secret))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Backup codes work once
	w = a.login(t, testPassword, setup.BackupCodes[0])
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.login(t, testPassword, setup.BackupCodes[0])
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, "GET", "/2fa/status", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.TwoFactorStatus
	decode(t, w, &status)
	assert.True(t, status.IsEnabled)
	assert.Equal(t, 9, status.RemainingBackupCodes)

	w = a.do(t, "POST", "/2fa/disable", tokens.AccessToken, handlers.DisableTwoFactorRequest{Password: testPassword})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.login(t, testPassword, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	a := newApp(t, defaultAuthRule())
	a.register(t)

	w := a.do(t, "POST", "/auth/forgot-password", "", handlers.EmailRequest{Email: testEmail})
	require.Equal(t, http.StatusAccepted, w.Code)
	token := a.mail.lastToken(t)

	// Unknown addresses get the same answer and no email
	sent := len(a.mail.msgs)
	w = a.do(t, "POST", "/auth/forgot-password", "", handlers.EmailRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, a.mail.msgs, sent)

	const newPassword = "N3w!Different#Passw0rd"

	// A weak password does not burn the token
	w = a.do(t, "POST", "/auth/reset-password", "", handlers.ResetPasswordRequest{Token: token, NewPassword: "weak"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, "POST", "/auth/reset-password", "", handlers.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, a.login(t, testPassword, "").Code)
	assert.Equal(t, http.StatusOK, a.login(t, newPassword, "").Code)
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	a := newApp(t, defaultAuthRule())
	a.register(t)

	w := a.do(t, "POST", "/auth/forgot-password", "", handlers.EmailRequest{Email: testEmail})
	require.Equal(t, http.StatusAccepted, w.Code)
	token := a.mail.lastToken(t)

	a.clock.Advance(time.Hour + time.Second)

	w = a.do(t, "POST", "/auth/reset-password", "", handlers.ResetPasswordRequest{Token: token, NewPassword: "N3w!Different#Passw0rd"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, pkghttp.MsgTokenExpired, errorMessage(t, w))
}

func TestLoginRateLimit_CountsOnlyFailures(t *testing.T) {
	a := newApp(t, ratelimit.Rule{Name: "auth", Limit: 3, Window: time.Minute})
	a.register(t)

	// Successful logins are released and never exhaust the budget
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, a.login(t, testPassword, "").Code)
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, a.login(t, "Wr0ng$Password!!", "").Code)
	}

	w := a.login(t, testPassword, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, pkghttp.MsgRateLimited, errorMessage(t, w))

	a.clock.Advance(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, a.login(t, testPassword, "").Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newApp(t, defaultAuthRule())

	for _, path := range []string{"/users/me", "/2fa/status"} {
		w := a.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := a.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
