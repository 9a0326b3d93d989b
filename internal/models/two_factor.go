package models

import (
	"time"
)

// TwoFactorFactor is a user's TOTP factor. One per user.
type TwoFactorFactor struct {
	UserID           string
	Secret           string   // base32, 160 bits
	BackupCodeHashes []string // SHA-256 hex of each unconsumed backup code
	IsEnabled        bool
	EnabledAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CanEnable reports whether the factor holds a usable secret
func (f *TwoFactorFactor) CanEnable() bool {
	return f.Secret != ""
}

// TwoFactorSetup is returned once from setup; the backup codes are never shown again
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCode          string   `json:"qr_code"` // PNG data URL
	BackupCodes     []string `json:"backup_codes"`
}

// TwoFactorStatus summarises a user's factor without exposing secrets
type TwoFactorStatus struct {
	IsSetUp              bool       `json:"is_set_up"`
	IsEnabled            bool       `json:"is_enabled"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}
