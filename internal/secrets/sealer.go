// Package secrets seals OAuth tokens before they are written to the database.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// ErrMalformed is returned by Open when the input is not a sealed value.
var ErrMalformed = errors.New("secrets: malformed ciphertext")

// Sealer encrypts short strings with AES-256-GCM. The output is
// hex(nonce || ciphertext || tag).
type Sealer struct {
	aead cipher.AEAD
}

// KeyFromSecret turns the configured secret into a 32-byte key. A 64 character
// hex string is used as-is; anything else is stretched with HKDF-SHA256.
func KeyFromSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("secrets: empty secret")
	}
	if len(secret) == keySize*2 {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, nil
		}
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("modmail-viewer token sealing"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// New returns a Sealer for a 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewFromSecret is KeyFromSecret followed by New.
func NewFromSecret(secret string) (*Sealer, error) {
	key, err := KeyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < nonceSize+tagSize {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
