package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "u***@*******.com", SanitizedEmail("user@example.com"))
	assert.Equal(t, "a@*.io", SanitizedEmail("a@b.io"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	got := SanitizeQueryString("token=abc123&page=2")
	assert.Contains(t, got, "page=2")
	assert.NotContains(t, got, "abc123")
	assert.Contains(t, got, "token=%5BREDACTED%5D")

	assert.Equal(t, "", SanitizeQueryString(""))
	assert.Equal(t, "[REDACTED]", SanitizeQueryString("%zz"))
}

func TestAuditLogger_LogSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(New(&buf, "info"))

	event := models.NewAuditEvent(models.AuditEventLoginFailed, models.SeverityMedium, "user-1",
		"login failed", models.AuditMetadata{"reason": "invalid_password"}, time.Now())
	al.LogSecurityEvent(context.Background(), event)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "LOGIN_FAILED", line["event_type"])
	assert.Equal(t, "user-1", line["actor_id"])
	assert.Equal(t, "invalid_password", line["reason"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}
