// Package rbac implements the RBAC model store, service bindings,
// user-service-role assignments, and the permission resolver.
package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"gorm.io/gorm"
)

// Store manages RBAC models, roles, permissions, and grants.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateModel creates a new RBAC model.
func (s *Store) CreateModel(ctx context.Context, name, description string) (*models.RbacModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrValidation)
	}
	now := time.Now().UTC()
	model := models.RbacModel{Name: name, Description: strings.TrimSpace(description), CreatedAt: now, UpdatedAt: now}
	if errCreate := s.db.WithContext(ctx).Create(&model).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("%w: model %q", ErrConflict, name)
		}
		return nil, fmt.Errorf("create model: %w", errCreate)
	}
	return &model, nil
}

// GetModel returns a model by ID.
func (s *Store) GetModel(ctx context.Context, id uint64) (*models.RbacModel, error) {
	var model models.RbacModel
	if errFind := s.db.WithContext(ctx).First(&model, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return nil, fmt.Errorf("%w: model %d", ErrNotFound, id)
		}
		return nil, errFind
	}
	return &model, nil
}

// ListModels returns all models in creation order.
func (s *Store) ListModels(ctx context.Context) ([]models.RbacModel, error) {
	var rows []models.RbacModel
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// DeleteModel removes a model and cascades, in one transaction, through its
// role-permission links, user-service-role rows, service bindings, roles,
// and permissions. A partial cascade is never left behind.
func (s *Store) DeleteModel(ctx context.Context, id uint64) error {
	if _, errGet := s.GetModel(ctx, id); errGet != nil {
		return errGet
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var roleIDs []uint64
		if errFind := tx.Model(&models.Role{}).Where("model_id = ?", id).Pluck("id", &roleIDs).Error; errFind != nil {
			return errFind
		}
		if len(roleIDs) > 0 {
			if errDel := tx.Where("role_id IN ?", roleIDs).Delete(&models.RolePermission{}).Error; errDel != nil {
				return errDel
			}
			if errDel := tx.Where("role_id IN ?", roleIDs).Delete(&models.UserServiceRole{}).Error; errDel != nil {
				return errDel
			}
		}
		if errDel := tx.Where("model_id = ?", id).Delete(&models.ServiceRbacModel{}).Error; errDel != nil {
			return errDel
		}
		if errDel := tx.Where("model_id = ?", id).Delete(&models.Role{}).Error; errDel != nil {
			return errDel
		}
		if errDel := tx.Where("model_id = ?", id).Delete(&models.Permission{}).Error; errDel != nil {
			return errDel
		}
		return tx.Delete(&models.RbacModel{}, id).Error
	})
}

// CreateRole creates a role under an existing model.
func (s *Store) CreateRole(ctx context.Context, modelID uint64, name, description string) (*models.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidation)
	}
	if _, errGet := s.GetModel(ctx, modelID); errGet != nil {
		return nil, errGet
	}
	now := time.Now().UTC()
	role := models.Role{ModelID: modelID, Name: name, Description: strings.TrimSpace(description), CreatedAt: now, UpdatedAt: now}
	if errCreate := s.db.WithContext(ctx).Create(&role).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("%w: role %q in model %d", ErrConflict, name, modelID)
		}
		return nil, fmt.Errorf("create role: %w", errCreate)
	}
	return &role, nil
}

// GetRole returns a role by ID.
func (s *Store) GetRole(ctx context.Context, id uint64) (*models.Role, error) {
	var role models.Role
	if errFind := s.db.WithContext(ctx).First(&role, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return nil, fmt.Errorf("%w: role %d", ErrNotFound, id)
		}
		return nil, errFind
	}
	return &role, nil
}

// ListRoles returns a model's roles in creation order.
func (s *Store) ListRoles(ctx context.Context, modelID uint64) ([]models.Role, error) {
	var rows []models.Role
	if errFind := s.db.WithContext(ctx).Where("model_id = ?", modelID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// DeleteRole removes a role and cascades through its grants and assignments.
func (s *Store) DeleteRole(ctx context.Context, id uint64) error {
	if _, errGet := s.GetRole(ctx, id); errGet != nil {
		return errGet
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("role_id = ?", id).Delete(&models.RolePermission{}).Error; errDel != nil {
			return errDel
		}
		if errDel := tx.Where("role_id = ?", id).Delete(&models.UserServiceRole{}).Error; errDel != nil {
			return errDel
		}
		return tx.Delete(&models.Role{}, id).Error
	})
}

// CreatePermission creates a permission under an existing model. Names follow
// the action:resource convention; the resource and action columns are derived
// when not given explicitly.
func (s *Store) CreatePermission(ctx context.Context, modelID uint64, name, description string) (*models.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: permission name is required", ErrValidation)
	}
	if _, errGet := s.GetModel(ctx, modelID); errGet != nil {
		return nil, errGet
	}
	action, resource := splitPermissionName(name)
	perm := models.Permission{
		ModelID:     modelID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Resource:    resource,
		Action:      action,
		CreatedAt:   time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&perm).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("%w: permission %q in model %d", ErrConflict, name, modelID)
		}
		return nil, fmt.Errorf("create permission: %w", errCreate)
	}
	return &perm, nil
}

// ListPermissions returns a model's permissions in creation order.
func (s *Store) ListPermissions(ctx context.Context, modelID uint64) ([]models.Permission, error) {
	var rows []models.Permission
	if errFind := s.db.WithContext(ctx).Where("model_id = ?", modelID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// DeletePermission removes a permission and its grant links.
func (s *Store) DeletePermission(ctx context.Context, id uint64) error {
	var perm models.Permission
	if errFind := s.db.WithContext(ctx).First(&perm, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return fmt.Errorf("%w: permission %d", ErrNotFound, id)
		}
		return errFind
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("permission_id = ?", id).Delete(&models.RolePermission{}).Error; errDel != nil {
			return errDel
		}
		return tx.Delete(&models.Permission{}, id).Error
	})
}

// UpdateGrants grants and revokes permissions on a role in one transaction.
// Every permission must belong to the role's model; a cross-model grant is
// rejected without applying any change. Grant order is preserved for new
// links and duplicate grants are ignored.
func (s *Store) UpdateGrants(ctx context.Context, roleID uint64, grant, revoke []uint64) error {
	role, errGet := s.GetRole(ctx, roleID)
	if errGet != nil {
		return errGet
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(grant) > 0 {
			var count int64
			if errCount := tx.Model(&models.Permission{}).
				Where("id IN ? AND model_id = ?", grant, role.ModelID).
				Count(&count).Error; errCount != nil {
				return errCount
			}
			if count != int64(len(dedupeIDs(grant))) {
				return fmt.Errorf("%w: grant references permissions outside model %d", ErrValidation, role.ModelID)
			}
		}
		for _, permID := range dedupeIDs(grant) {
			var existing int64
			if errCount := tx.Model(&models.RolePermission{}).
				Where("role_id = ? AND permission_id = ?", roleID, permID).
				Count(&existing).Error; errCount != nil {
				return errCount
			}
			if existing > 0 {
				continue
			}
			link := models.RolePermission{RoleID: roleID, PermissionID: permID, CreatedAt: time.Now().UTC()}
			if errCreate := tx.Create(&link).Error; errCreate != nil {
				return errCreate
			}
		}
		if len(revoke) > 0 {
			if errDel := tx.Where("role_id = ? AND permission_id IN ?", roleID, revoke).
				Delete(&models.RolePermission{}).Error; errDel != nil {
				return errDel
			}
		}
		return nil
	})
}

// PermissionsForRole returns a role's permissions in grant insertion order.
func (s *Store) PermissionsForRole(ctx context.Context, roleID uint64) ([]models.Permission, error) {
	var rows []models.Permission
	errFind := s.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Order("role_permissions.id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// splitPermissionName derives (action, resource) from an action:resource name.
func splitPermissionName(name string) (action, resource string) {
	parts := strings.SplitN(name, ":", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return name, ""
}

// dedupeIDs removes duplicates preserving first-seen order.
func dedupeIDs(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
