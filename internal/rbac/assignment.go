package rbac

import (
	"context"
	"fmt"
	"time"

	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Assignments manages user-service-role rows. A user holds at most one role
// per service; re-assignment replaces the prior role in place.
type Assignments struct {
	db *gorm.DB
}

// NewAssignments constructs an Assignments store.
func NewAssignments(db *gorm.DB) *Assignments {
	return &Assignments{db: db}
}

// Assign gives the user a role scoped to the service. The role must belong
// to the model currently bound to the service; the binding read and the
// validation happen inside one transaction so a concurrent binding swap
// cannot slip a cross-model role through.
func (a *Assignments) Assign(ctx context.Context, userID string, serviceID, roleID uint64) (*models.UserServiceRole, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	var row models.UserServiceRole
	errTx := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if errFind := tx.First(&user, "id = ?", userID).Error; errFind != nil {
			if dbutil.IsNotFound(errFind) {
				return fmt.Errorf("%w: user %s", ErrNotFound, userID)
			}
			return errFind
		}

		var binding models.ServiceRbacModel
		if errFind := tx.Where("service_id = ?", serviceID).First(&binding).Error; errFind != nil {
			if dbutil.IsNotFound(errFind) {
				return fmt.Errorf("%w: service %d has no RBAC model bound", ErrValidation, serviceID)
			}
			return errFind
		}

		var role models.Role
		if errFind := tx.First(&role, roleID).Error; errFind != nil {
			if dbutil.IsNotFound(errFind) {
				return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
			}
			return errFind
		}
		if role.ModelID != binding.ModelID {
			return fmt.Errorf("%w: role %d belongs to model %d, service %d is bound to model %d",
				ErrRoleModelMismatch, roleID, role.ModelID, serviceID, binding.ModelID)
		}

		now := time.Now().UTC()
		row = models.UserServiceRole{UserID: userID, ServiceID: serviceID, RoleID: roleID, CreatedAt: now, UpdatedAt: now}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "service_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role_id", "updated_at"}),
		}).Create(&row).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// Remove deletes the user's role assignment for the service.
func (a *Assignments) Remove(ctx context.Context, userID string, serviceID uint64) error {
	res := a.db.WithContext(ctx).
		Where("user_id = ? AND service_id = ?", userID, serviceID).
		Delete(&models.UserServiceRole{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: assignment for user %s in service %d", ErrNotFound, userID, serviceID)
	}
	return nil
}

// ListForUser returns the user's assignments across all services.
func (a *Assignments) ListForUser(ctx context.Context, userID string) ([]models.UserServiceRole, error) {
	var rows []models.UserServiceRole
	if errFind := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// ListForService returns all assignments scoped to the service.
func (a *Assignments) ListForService(ctx context.Context, serviceID uint64) ([]models.UserServiceRole, error) {
	var rows []models.UserServiceRole
	if errFind := a.db.WithContext(ctx).Where("service_id = ?", serviceID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
