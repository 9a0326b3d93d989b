package auth

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestRandomTokenProvider_Hex(t *testing.T) {
	p := NewRandomTokenProvider(bytes.NewReader([]byte{0x00, 0x0f, 0xab, 0xff}))

	token, err := p.Hex(4)
	require.NoError(t, err)
	assert.Equal(t, "000fabff", token)
}

func TestRandomTokenProvider_HexLength(t *testing.T) {
	p := NewRandomTokenProvider(nil)

	token, err := p.Hex(16)
	require.NoError(t, err)
	assert.Len(t, token, 32)

	other, err := p.Hex(16)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestRandomTokenProvider_ReadFailure(t *testing.T) {
	p := NewRandomTokenProvider(failingReader{})

	_, err := p.Bytes(16)
	assert.Error(t, err)

	_, err = p.Hex(16)
	assert.Error(t, err)
}

func TestRandomTokenProvider_ShortRead(t *testing.T) {
	p := NewRandomTokenProvider(bytes.NewReader([]byte{1, 2}))

	_, err := p.Bytes(4)
	assert.Error(t, err)
}

func TestRandomTokenProvider_InvalidLength(t *testing.T) {
	p := NewRandomTokenProvider(nil)

	_, err := p.Bytes(0)
	assert.Error(t, err)
}

func TestRandomTokenProvider_Intn(t *testing.T) {
	p := NewRandomTokenProvider(nil)

	for i := 0; i < 100; i++ {
		n, err := p.Intn(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 7)
	}

	n, err := p.Intn(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
