package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrSecretBoxOpen is returned when a sealed value fails authentication
var ErrSecretBoxOpen = errors.New("failed to open sealed secret")

// SecretBox encrypts small secrets (TOTP seeds) at rest with AES-256-GCM.
// Sealed values are laid out as nonce || ciphertext.
type SecretBox struct {
	aead   cipher.AEAD
	random *RandomTokenProvider
}

// NewSecretBox creates a SecretBox
// key must be exactly 32 bytes for AES-256
func NewSecretBox(key []byte, random *RandomTokenProvider) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if random == nil {
		random = NewRandomTokenProvider(nil)
	}

	return &SecretBox{aead: gcm, random: random}, nil
}

// Seal encrypts plaintext under a fresh 12-byte nonce
func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	nonce, err := b.random.Bytes(b.aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := make([]byte, 0, len(nonce)+len(plaintext)+b.aead.Overhead())
	sealed = append(sealed, nonce...)
	return b.aead.Seal(sealed, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal
func (b *SecretBox) Open(sealed []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(sealed) < nonceSize+b.aead.Overhead() {
		return nil, ErrSecretBoxOpen
	}

	plaintext, err := b.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrSecretBoxOpen
	}
	return plaintext, nil
}

// SealString is Seal for string secrets
func (b *SecretBox) SealString(secret string) ([]byte, error) {
	return b.Seal([]byte(secret))
}

// OpenString is Open for string secrets
func (b *SecretBox) OpenString(sealed []byte) (string, error) {
	plaintext, err := b.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
