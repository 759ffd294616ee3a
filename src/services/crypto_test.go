package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const testAccessURL = "ss://Y2hhY2hhMjAtaWV0Zi1wb2x5MTMwNTpzZWNyZXQ@203.0.113.5:443/?outline=1"

func TestNewURLSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantNil bool
		wantErr bool
	}{
		{"empty key stores plain text", "", true, false},
		{"valid key", testHexKey, false, false},
		{"not hex", "not-hex", true, true},
		{"AES-128 sized key", "0123456789abcdef0123456789abcdef", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewURLSealer(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, s == nil)
		})
	}
}

func TestURLSealer_RoundTrip(t *testing.T) {
	s, err := NewURLSealer(testHexKey)
	require.NoError(t, err)

	sealed, err := s.Seal("7", testAccessURL)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "203.0.113.5")

	again, err := s.Seal("7", testAccessURL)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "every seal uses a fresh nonce")

	url, err := s.Open("7", sealed)
	require.NoError(t, err)
	assert.Equal(t, testAccessURL, url)
}

func TestURLSealer_BoundToKeyID(t *testing.T) {
	s, err := NewURLSealer(testHexKey)
	require.NoError(t, err)

	sealed, err := s.Seal("7", testAccessURL)
	require.NoError(t, err)

	url, err := s.Open("8", sealed)
	require.NoError(t, err)
	assert.NotEqual(t, testAccessURL, url)
	assert.Equal(t, string(sealed), url)
}

func TestURLSealer_PlainRowsPassThrough(t *testing.T) {
	s, err := NewURLSealer(testHexKey)
	require.NoError(t, err)

	for _, stored := range []string{"ss://x", testAccessURL} {
		url, err := s.Open("7", []byte(stored))
		require.NoError(t, err)
		assert.Equal(t, stored, url)
	}
}

func TestURLSealer_Nil(t *testing.T) {
	var s *URLSealer

	stored, err := s.Seal("7", "ss://plain")
	require.NoError(t, err)
	assert.Equal(t, []byte("ss://plain"), stored)

	url, err := s.Open("7", stored)
	require.NoError(t, err)
	assert.Equal(t, "ss://plain", url)
}

func TestURLSealer_WrongKeyReturnsStoredBytes(t *testing.T) {
	a, err := NewURLSealer(testHexKey)
	require.NoError(t, err)
	b, err := NewURLSealer("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	sealed, err := a.Seal("7", "ss://secret")
	require.NoError(t, err)

	url, err := b.Open("7", sealed)
	require.NoError(t, err)
	assert.Equal(t, string(sealed), url)
}
