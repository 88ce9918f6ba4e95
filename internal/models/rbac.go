package models

import "time"

// RbacModel is a named, self-contained namespace of roles and permissions.
// Roles and permissions from one model are never valid in another.
type RbacModel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:text;not null;uniqueIndex"` // Model name.
	Description string `gorm:"type:text"`                      // Free-text description.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Role groups permissions inside one RBAC model.
type Role struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID uint64 `gorm:"not null;index;uniqueIndex:idx_roles_model_name,priority:1"` // Owning RBAC model.
	Name    string `gorm:"type:text;not null;uniqueIndex:idx_roles_model_name,priority:2"` // Role name, unique per model.

	Description string `gorm:"type:text"` // Free-text description.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Permission is a fine-grained capability inside one RBAC model. Names
// follow the action:resource convention.
type Permission struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID uint64 `gorm:"not null;index;uniqueIndex:idx_permissions_model_name,priority:1"` // Owning RBAC model.
	Name    string `gorm:"type:text;not null;uniqueIndex:idx_permissions_model_name,priority:2"` // Permission name, unique per model.

	Description string `gorm:"type:text"` // Free-text description.
	Resource    string `gorm:"type:text"` // Resource part of the name.
	Action      string `gorm:"type:text"` // Action part of the name.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// RolePermission grants a permission to a role. The autoincrement ID
// preserves grant insertion order for deterministic listings.
type RolePermission struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Grant order key.

	RoleID       uint64 `gorm:"not null;uniqueIndex:idx_role_permissions_pair,priority:1"` // Granted role.
	PermissionID uint64 `gorm:"not null;index;uniqueIndex:idx_role_permissions_pair,priority:2"` // Granted permission.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Grant timestamp.
}

// ServiceRbacModel binds a service to its RBAC model. At most one row
// exists per service; assigning a new model replaces the old binding.
type ServiceRbacModel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ServiceID uint64 `gorm:"not null;uniqueIndex"` // Bound service.
	ModelID   uint64 `gorm:"not null;index"`       // Bound RBAC model.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Binding timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last replacement timestamp.
}

// UserServiceRole assigns a user a role scoped to one service. Uniqueness
// on (user_id, service_id) guarantees at most one role per service at a
// time; re-assigning replaces the prior role.
type UserServiceRole struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    string `gorm:"type:text;not null;uniqueIndex:idx_user_service,priority:1"` // Assigned user.
	ServiceID uint64 `gorm:"not null;uniqueIndex:idx_user_service,priority:2;index"`     // Scoping service.
	RoleID    uint64 `gorm:"not null;index"`                                             // Assigned role.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Assignment timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last replacement timestamp.
}
