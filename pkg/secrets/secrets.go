// Package secrets encrypts stored account credentials at rest. The portal
// has to replay a credential against the upstream on re-login, so a
// one-way hash is not an option; credentials are sealed with an AEAD and
// recovered on demand.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidCiphertext is returned when a sealed value cannot be decoded
// or fails authentication.
var ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")

// Cipher seals and opens credential strings.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// AEADCipher seals values with ChaCha20-Poly1305. The wire form is
// base64(nonce || ciphertext).
type AEADCipher struct {
	aead cipher.AEAD
}

// NewAEADCipher builds a cipher from a 64-char hex key (32 bytes decoded).
func NewAEADCipher(hexKey string) (*AEADCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding secrets key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secrets key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	return &AEADCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *AEADCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AEADCipher) Decrypt(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < chacha20poly1305.NonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// NopCipher passes values through unchanged. Used when no key is
// configured, for example in local development.
type NopCipher struct{}

func (NopCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }
func (NopCipher) Decrypt(sealed string) (string, error)    { return sealed, nil }

// FromKey returns an AEAD cipher for a non-empty hex key and the
// pass-through cipher otherwise.
func FromKey(hexKey string) (Cipher, error) {
	if hexKey == "" {
		return NopCipher{}, nil
	}
	return NewAEADCipher(hexKey)
}

// Verify interface compliance.
var _ Cipher = (*AEADCipher)(nil)
var _ Cipher = NopCipher{}
