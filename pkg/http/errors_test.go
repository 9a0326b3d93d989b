package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keystone/internal/models"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, pkghttp.MsgTokenInvalid)

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.True(t, resp.Error)
	assert.Equal(t, "TOKEN_INVALID", resp.Message)
	assert.Equal(t, 400, resp.Code)
	assert.Nil(t, resp.RetryAfter)
}

func TestErrorResponseJSON(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteUnauthorized(w)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, true, resp["error"])
	assert.Equal(t, "UNAUTHORIZED", resp["message"])
	assert.Equal(t, float64(401), resp["code"])
	assert.NotContains(t, resp, "retryAfter")
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteRateLimited(w, 42)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMITED", resp["message"])
	assert.Equal(t, float64(42), resp["retryAfter"])
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		known   bool
	}{
		{"invalid credentials", models.ErrInvalidCredentials, 401, "INVALID_CREDENTIALS", true},
		{"expired", models.ErrTokenExpired, 401, "TOKEN_EXPIRED", true},
		{"wrapped invalid", fmt.Errorf("redeem: %w", models.ErrTokenInvalid), 400, "TOKEN_INVALID", true},
		{"already used", models.ErrTokenAlreadyUsed, 400, "TOKEN_ALREADY_USED", true},
		{"not found", models.ErrNotFound, 404, "NOT_FOUND", true},
		{"conflict", models.ErrConflict, 409, "CONFLICT", true},
		{"rate limited", models.ErrRateLimited, 429, "RATE_LIMITED", true},
		{"2fa required", models.ErrTwoFactorRequired, 401, "TWO_FACTOR_REQUIRED", true},
		{"bad code", models.ErrInvalidCode, 401, "INVALID_TWO_FACTOR_CODE", true},
		{"not enabled", models.ErrNotEnabled, 400, "TWO_FACTOR_NOT_ENABLED", true},
		{"hashing failure", models.ErrHashingFailure, 500, "INTERNAL_ERROR", false},
		{"unknown", errors.New("boom"), 500, "INTERNAL_ERROR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message, known := pkghttp.FromError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
			assert.Equal(t, tt.known, known)
		})
	}
}
