// Package vault encrypts per-service signing secrets at rest with
// AES-256-GCM under a process-wide master key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryption indicates the ciphertext failed authentication or could not
// be decoded. The vault fails closed: callers must treat the secret as lost,
// never as empty.
var ErrDecryption = errors.New("vault: decryption failed")

const (
	// secretPrefix marks generated plaintext secrets.
	secretPrefix = "sk_"
	// secretBytes is the entropy of a generated secret.
	secretBytes = 32
	// previewLen is the number of trailing characters kept for display.
	previewLen = 6
)

// Vault seals and opens service secrets. The master key is read-only after
// construction.
type Vault struct {
	aead cipher.AEAD
}

// New constructs a Vault from a 32-byte master key.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("vault: master key must be 32 bytes, got %d", len(masterKey))
	}
	block, errCipher := aes.NewCipher(masterKey)
	if errCipher != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", errCipher)
	}
	aead, errGCM := cipher.NewGCM(block)
	if errGCM != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", errGCM)
	}
	return &Vault{aead: aead}, nil
}

// GenerateSecret returns a new cryptographically random service secret.
// The plaintext is handed to the caller exactly once; only the ciphertext
// and preview are ever persisted.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, errRead := rand.Read(raw); errRead != nil {
		return "", fmt.Errorf("vault: generate secret: %w", errRead)
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Preview returns the display-only suffix of a plaintext secret. It is not
// reversible to the full secret.
func Preview(secret string) string {
	if len(secret) <= previewLen {
		return secret
	}
	return secret[len(secret)-previewLen:]
}

// Encrypt seals a plaintext secret into a base64 blob of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || v.aead == nil {
		return "", errors.New("vault: not initialized")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, errRead := rand.Read(nonce); errRead != nil {
		return "", fmt.Errorf("vault: nonce: %w", errRead)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any decode, truncation, or
// authentication failure returns ErrDecryption.
func (v *Vault) Decrypt(blob string) (string, error) {
	if v == nil || v.aead == nil {
		return "", errors.New("vault: not initialized")
	}
	sealed, errDecode := base64.StdEncoding.DecodeString(blob)
	if errDecode != nil {
		return "", ErrDecryption
	}
	if len(sealed) < v.aead.NonceSize() {
		return "", ErrDecryption
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, errOpen := v.aead.Open(nil, nonce, ciphertext, nil)
	if errOpen != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
