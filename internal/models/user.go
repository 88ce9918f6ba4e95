package models

import "time"

// System-wide user roles.
const (
	// SystemRoleAdmin marks hub administrators.
	SystemRoleAdmin = "admin"
	// SystemRoleUser marks regular accounts.
	SystemRoleUser = "user"
)

// User represents an identity stored in the database. An account is
// identified by at least one of: its UUID alone, an email/password pair,
// or a Nostr public key.
type User struct {
	ID string `gorm:"type:text;primaryKey"` // UUID primary identity.

	Email        *string `gorm:"type:text;uniqueIndex"` // Optional email, unique when present.
	PasswordHash string  `gorm:"type:text"`             // Optional bcrypt hash.
	NostrPubkey  *string `gorm:"type:text;uniqueIndex"` // Optional Nostr pubkey (x-only hex), unique when present.

	Role string `gorm:"type:text;not null;default:user"` // System-wide role: admin or user.

	TOTPSecret  string `gorm:"type:text"`              // TOTP secret, set during enrollment.
	TOTPEnabled bool   `gorm:"not null;default:false"` // Whether TOTP is required at login.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
