package models

import "time"

// Service represents a registered external consumer of hub-issued tokens.
// Its signing secret is stored encrypted; the plaintext is only ever
// returned once, at provisioning or rotation.
type Service struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:text;not null;uniqueIndex"` // Display name.
	URL         string `gorm:"type:text"`                      // Service base URL.
	RedirectURL string `gorm:"type:text"`                      // Registered redirect target for login handoff.

	EncryptedSecret string `gorm:"type:text"` // Vault ciphertext blob (nonce-prefixed, base64).
	SecretPreview   string `gorm:"type:text"` // Display-only suffix of the plaintext secret.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
