package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// URLSealerKeySize is the AES-256 key length expected in ENCRYPTION_KEY
const URLSealerKeySize = 32

// URLSealer protects stored access URLs with AES-256-GCM. The key id is
// bound as additional data, so a sealed URL only opens for the row it was
// written to. A nil *URLSealer stores URLs in plain text.
type URLSealer struct {
	aead cipher.AEAD
}

// NewURLSealer parses a hex key. An empty key yields a nil sealer.
func NewURLSealer(hexKey string) (*URLSealer, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not hex: %w", err)
	}
	if len(key) != URLSealerKeySize {
		return nil, fmt.Errorf("ENCRYPTION_KEY must hold %d bytes, got %d", URLSealerKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &URLSealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext of accessURL for the given key
func (s *URLSealer) Seal(keyID, accessURL string) ([]byte, error) {
	if s == nil {
		return []byte(accessURL), nil
	}

	out := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(accessURL)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(out, out, []byte(accessURL), []byte(keyID)), nil
}

// Open recovers the access URL stored for keyID. Values that do not
// authenticate are rows written before ENCRYPTION_KEY was set and are
// returned as plain text.
func (s *URLSealer) Open(keyID string, stored []byte) (string, error) {
	if s == nil {
		return string(stored), nil
	}

	n := s.aead.NonceSize()
	if len(stored) < n+s.aead.Overhead() {
		return string(stored), nil
	}
	plain, err := s.aead.Open(nil, stored[:n], stored[n:], []byte(keyID))
	if err != nil {
		return string(stored), nil
	}
	return string(plain), nil
}
