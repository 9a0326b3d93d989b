package auth

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// RandomTokenProvider produces cryptographically random bytes from an
// injectable source
type RandomTokenProvider struct {
	reader io.Reader
}

// NewRandomTokenProvider creates a provider reading from r.
// A nil reader falls back to crypto/rand.
func NewRandomTokenProvider(r io.Reader) *RandomTokenProvider {
	if r == nil {
		r = rand.Reader
	}
	return &RandomTokenProvider{reader: r}
}

// Bytes returns n random bytes
func (p *RandomTokenProvider) Bytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("random byte count must be positive, got %d", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Hex returns n random bytes hex-encoded (2n characters)
func (p *RandomTokenProvider) Hex(n int) (string, error) {
	buf, err := p.Bytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Intn returns a uniform-ish random number in [0, max)
func (p *RandomTokenProvider) Intn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	buf, err := p.Bytes(8)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(buf) % uint64(max)), nil
}
