package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod      = 30
	totpDigits      = 6
	totpSecretBytes = 20
	backupCodeCount = 10
	backupCodeBytes = 4
	qrCodeImageSize = 200

	// steps accepted either side of the current one
	totpDriftWindow = 1
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidSecret is returned when a TOTP secret is not valid base32
var ErrInvalidSecret = models.ErrInvalidTOTPSecret

// TOTPEngine generates and verifies RFC 6238 codes and backup codes
type TOTPEngine struct {
	issuer string
	clock  Clock
	random *RandomTokenProvider
}

// NewTOTPEngine creates a new TOTP engine
func NewTOTPEngine(issuer string, clock Clock, random *RandomTokenProvider) *TOTPEngine {
	if clock == nil {
		clock = SystemClock{}
	}
	if random == nil {
		random = NewRandomTokenProvider(nil)
	}
	return &TOTPEngine{
		issuer: issuer,
		clock:  clock,
		random: random,
	}
}

// GenerateSecret returns 160 random bits encoded as unpadded base32
func (e *TOTPEngine) GenerateSecret() (string, error) {
	raw, err := e.random.Bytes(totpSecretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return secretEncoding.EncodeToString(raw), nil
}

// StepAt returns the 30-second time step containing t
func StepAt(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix / totpPeriod)
}

// ComputeCode returns the 6-digit code for secret at the given step
func (e *TOTPEngine) ComputeCode(secret string, step uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, step, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		if errors.Is(err, otp.ErrValidateSecretInvalidBase32) {
			return "", ErrInvalidSecret
		}
		return "", fmt.Errorf("failed to compute TOTP code: %w", err)
	}
	return code, nil
}

// VerifyCode checks code against the current step and one step either side.
// Every candidate is computed and compared so the matching step is not
// observable through timing.
func (e *TOTPEngine) VerifyCode(secret, code string) bool {
	if !isSixDigits(code) {
		return false
	}

	current := StepAt(e.clock.Now())
	matched := 0
	for offset := -totpDriftWindow; offset <= totpDriftWindow; offset++ {
		if offset < 0 && current < uint64(-offset) {
			continue
		}
		step := current + uint64(offset)

		expected, err := e.ComputeCode(secret, step)
		if err != nil {
			return false
		}
		matched |= subtle.ConstantTimeCompare([]byte(expected), []byte(code))
	}
	return matched == 1
}

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps
func (e *TOTPEngine) ProvisioningURI(account, secret string) string {
	issuer := url.PathEscape(e.issuer)
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		issuer, url.PathEscape(account), secret, url.QueryEscape(e.issuer))
}

// QRCodeDataURL renders uri as a PNG data URL
func (e *TOTPEngine) QRCodeDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// GenerateBackupCodes returns ten 8-character upper-case hex codes
func (e *TOTPEngine) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		code, err := e.random.Hex(backupCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(code)
	}
	return codes, nil
}

// HashBackupCode returns the SHA-256 hex digest stored in place of a backup code
func HashBackupCode(code string) string {
	hash := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(hash[:])
}

// HashBackupCodes hashes each code in order
func HashBackupCodes(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = HashBackupCode(code)
	}
	return hashes
}

// MatchBackupCode returns the stored hash matching code, scanning the whole set
func MatchBackupCode(hashes []string, code string) (string, bool) {
	candidate := []byte(HashBackupCode(code))
	found := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), candidate) == 1 && found < 0 {
			found = i
		}
	}
	if found < 0 {
		return "", false
	}
	return hashes[found], true
}

// ConsumeBackupCode removes code from the factor's unconsumed set.
// It returns false when the code is unknown or already used.
func (e *TOTPEngine) ConsumeBackupCode(factor *models.TwoFactorFactor, code string) bool {
	hash, ok := MatchBackupCode(factor.BackupCodeHashes, code)
	if !ok {
		return false
	}
	factor.BackupCodeHashes = RemoveBackupCodeHash(factor.BackupCodeHashes, hash)
	return true
}

// RemoveBackupCodeHash returns hashes without the first occurrence of hash
func RemoveBackupCodeHash(hashes []string, hash string) []string {
	remaining := make([]string, 0, len(hashes))
	removed := false
	for _, h := range hashes {
		if !removed && h == hash {
			removed = true
			continue
		}
		remaining = append(remaining, h)
	}
	return remaining
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func isSixDigits(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
