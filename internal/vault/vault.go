// Package vault encrypts and decrypts provider credentials at rest.
// It is the only place in the process where stored secrets become plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnavailable means the vault key is missing or malformed. Fatal at startup.
	ErrUnavailable = errors.New("vault unavailable")
	// ErrDecrypt means the ciphertext is malformed or was sealed under another
	// key. Callers must treat the credential as unusable, not crash.
	ErrDecrypt = errors.New("decryption failed")
)

// Vault seals and opens secrets with AES-GCM under a single process-wide key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a raw AES key (16/24/32 bytes).
func New(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrUnavailable, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", ErrUnavailable, err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromBase64 builds a Vault from the base64-encoded key used in configuration.
func NewFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key: %v", ErrUnavailable, err)
	}
	return New(key)
}

// Encrypt seals one plaintext value and returns a base64-encoded payload.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || v.aead == nil {
		return "", ErrUnavailable
	}

	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Stored as nonce || ciphertext, raw base64.
	payload := append(nonce, ciphertext...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Decrypt opens one previously encrypted value. Any failure, including a
// rotated key, surfaces as ErrDecrypt.
func (v *Vault) Decrypt(sealed string) (string, error) {
	if v == nil || v.aead == nil {
		return "", ErrUnavailable
	}

	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: decode payload: %v", ErrDecrypt, err)
	}

	nonceSize := v.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: open: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}
