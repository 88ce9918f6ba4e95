package rbac

import (
	"context"
	"fmt"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"gorm.io/gorm"
)

// ResolvedAccess is the role, permission set, and model computed for a
// (user, service) pair at a point in time. Nil Role with a non-nil RbacModel
// means the service is managed but the user holds no role there.
type ResolvedAccess struct {
	Role        *models.Role
	Permissions []models.Permission
	RbacModel   *models.RbacModel
}

// Resolver composes the binding, assignment, and grant stores into the
// access resolution used at token issuance.
type Resolver struct {
	db       *gorm.DB
	recorder *audit.Recorder
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, recorder *audit.Recorder) *Resolver {
	return &Resolver{db: db, recorder: recorder}
}

// Resolve computes the user's access for the given service. It is a pure
// function of current store state: bindings and assignments are re-read on
// every call, never cached across requests.
//
// A nil serviceID, an unmanaged service, a missing assignment, and a stale
// assignment all degrade gracefully; only storage failures return an error.
func (r *Resolver) Resolve(ctx context.Context, userID string, serviceID *uint64) (ResolvedAccess, error) {
	if serviceID == nil {
		return ResolvedAccess{}, nil
	}

	var binding models.ServiceRbacModel
	errBinding := r.db.WithContext(ctx).Where("service_id = ?", *serviceID).First(&binding).Error
	if errBinding != nil {
		if dbutil.IsNotFound(errBinding) {
			// Unmanaged service: no RBAC to resolve.
			return ResolvedAccess{}, nil
		}
		return ResolvedAccess{}, fmt.Errorf("resolve binding: %w", errBinding)
	}

	var model models.RbacModel
	if errModel := r.db.WithContext(ctx).First(&model, binding.ModelID).Error; errModel != nil {
		if dbutil.IsNotFound(errModel) {
			return ResolvedAccess{}, nil
		}
		return ResolvedAccess{}, fmt.Errorf("resolve model: %w", errModel)
	}

	var assignment models.UserServiceRole
	errAssignment := r.db.WithContext(ctx).
		Where("user_id = ? AND service_id = ?", userID, *serviceID).
		First(&assignment).Error
	if errAssignment != nil {
		if dbutil.IsNotFound(errAssignment) {
			return ResolvedAccess{RbacModel: &model, Permissions: []models.Permission{}}, nil
		}
		return ResolvedAccess{}, fmt.Errorf("resolve assignment: %w", errAssignment)
	}

	var role models.Role
	errRole := r.db.WithContext(ctx).First(&role, assignment.RoleID).Error
	if errRole != nil {
		if dbutil.IsNotFound(errRole) {
			return ResolvedAccess{RbacModel: &model, Permissions: []models.Permission{}}, nil
		}
		return ResolvedAccess{}, fmt.Errorf("resolve role: %w", errRole)
	}

	if role.ModelID != model.ID {
		// The service's model was swapped after this assignment was made.
		// Degrade to no role rather than leak permissions across models.
		r.recorder.Record(ctx, audit.Entry{
			Event:      audit.EventStaleAssignment,
			Severity:   models.SeverityWarning,
			ActorID:    userID,
			Action:     "stale role assignment ignored during access resolution",
			TargetName: role.Name,
			Payload: map[string]any{
				"service_id":    *serviceID,
				"role_id":       role.ID,
				"role_model_id": role.ModelID,
				"bound_model":   model.ID,
			},
		})
		return ResolvedAccess{RbacModel: &model, Permissions: []models.Permission{}}, nil
	}

	var perms []models.Permission
	errPerms := r.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", role.ID).
		Order("role_permissions.id ASC").
		Find(&perms).Error
	if errPerms != nil {
		return ResolvedAccess{}, fmt.Errorf("resolve permissions: %w", errPerms)
	}
	if perms == nil {
		perms = []models.Permission{}
	}

	return ResolvedAccess{Role: &role, Permissions: perms, RbacModel: &model}, nil
}
