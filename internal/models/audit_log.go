package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Security event types
const (
	AuditEventLoginSuccess           = "LOGIN_SUCCESS"
	AuditEventLoginFailed            = "LOGIN_FAILED"
	AuditEventLogout                 = "LOGOUT"
	AuditEventTokenRefreshed         = "TOKEN_REFRESHED"
	AuditEventPasswordChange         = "PASSWORD_CHANGE"
	AuditEventPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	AuditEventTwoFactorSetup         = "2FA_SETUP"
	AuditEventTwoFactorEnabled       = "2FA_ENABLED"
	AuditEventTwoFactorDisabled      = "2FA_DISABLED"
	AuditEventTwoFactorVerified      = "2FA_VERIFIED"
	AuditEventTwoFactorFailed        = "2FA_FAILED"
	AuditEventBackupCodeUsed         = "2FA_BACKUP_CODE_USED"
	AuditEventEmailVerified          = "EMAIL_VERIFIED"
	AuditEventSecurityAlert          = "SECURITY_ALERT"
)

// AuditSeverity ranks security events
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "LOW"
	SeverityMedium   AuditSeverity = "MEDIUM"
	SeverityHigh     AuditSeverity = "HIGH"
	SeverityCritical AuditSeverity = "CRITICAL"
)

// AuditEvent is an immutable, append-only security event
type AuditEvent struct {
	ID          uuid.UUID     `db:"id"`
	EventType   string        `db:"event_type"`
	Severity    AuditSeverity `db:"severity"`
	ActorID     *string       `db:"actor_id"`
	Description string        `db:"description"`
	Context     AuditMetadata `db:"context"`
	Timestamp   time.Time     `db:"timestamp"`
}

// IsHighPriority reports whether the event warrants attention
func (e *AuditEvent) IsHighPriority() bool {
	return e.Severity == SeverityHigh || e.Severity == SeverityCritical
}

// NewAuditEvent builds an event stamped with a fresh ID and the given time
func NewAuditEvent(eventType string, severity AuditSeverity, actorID, description string, ctx AuditMetadata, at time.Time) *AuditEvent {
	event := &AuditEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		Severity:    severity,
		Description: description,
		Context:     ctx,
		Timestamp:   at.UTC(),
	}
	if actorID != "" {
		event.ActorID = &actorID
	}
	if event.Context == nil {
		event.Context = AuditMetadata{}
	}
	return event
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// NewRequestMetadata builds audit context for an inbound request, omitting empty values
func NewRequestMetadata(ipAddress, userAgent string) AuditMetadata {
	metadata := AuditMetadata{}
	if ipAddress != "" {
		metadata["ip_address"] = ipAddress
	}
	if userAgent != "" {
		metadata["user_agent"] = userAgent
	}
	return metadata
}
