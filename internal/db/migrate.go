package db

import (
	"fmt"

	"github.com/authhub/authhub/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
		return autoMigrate(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// autoMigrate applies the shared schema. Order matters only for readability;
// referential integrity is enforced at the application layer so the schema
// stays identical across SQLite and PostgreSQL.
func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Service{},
		&models.RbacModel{},
		&models.Role{},
		&models.Permission{},
		&models.RolePermission{},
		&models.ServiceRbacModel{},
		&models.UserServiceRole{},
		&models.AuditLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}
