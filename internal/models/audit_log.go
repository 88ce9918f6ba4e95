package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AuditLog is an append-only record of a security-relevant event. Rows are
// never mutated after insert.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Event    string `gorm:"type:text;not null;index"` // Event name, e.g. auth.login.
	Severity string `gorm:"type:text;not null;index"` // info, warning, error, or critical.

	ActorID    string `gorm:"type:text;index"` // Acting user ID, when known.
	Action     string `gorm:"type:text"`       // Human-readable action.
	TargetName string `gorm:"type:text"`       // Affected entity name.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Structured event payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}
