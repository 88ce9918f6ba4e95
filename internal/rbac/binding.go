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

// Binding resolves and mutates service-to-model bindings. A service owns at
// most one binding; assigning a new model replaces the old row.
type Binding struct {
	db *gorm.DB
}

// NewBinding constructs a Binding.
func NewBinding(db *gorm.DB) *Binding {
	return &Binding{db: db}
}

// Assign upserts the binding for a service, replacing any prior model.
func (b *Binding) Assign(ctx context.Context, serviceID, modelID uint64) error {
	var service models.Service
	if errFind := b.db.WithContext(ctx).First(&service, serviceID).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
		}
		return errFind
	}
	var model models.RbacModel
	if errFind := b.db.WithContext(ctx).First(&model, modelID).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return fmt.Errorf("%w: model %d", ErrNotFound, modelID)
		}
		return errFind
	}

	now := time.Now().UTC()
	row := models.ServiceRbacModel{ServiceID: serviceID, ModelID: modelID, CreatedAt: now, UpdatedAt: now}
	if errUpsert := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model_id", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("assign model: %w", errUpsert)
	}
	return nil
}

// Get returns the model currently bound to the service, or nil when the
// service is unmanaged. An unbound service is not an error.
func (b *Binding) Get(ctx context.Context, serviceID uint64) (*models.RbacModel, error) {
	var row models.ServiceRbacModel
	errFind := b.db.WithContext(ctx).Where("service_id = ?", serviceID).First(&row).Error
	if errFind != nil {
		if dbutil.IsNotFound(errFind) {
			return nil, nil
		}
		return nil, errFind
	}
	var model models.RbacModel
	if errModel := b.db.WithContext(ctx).First(&model, row.ModelID).Error; errModel != nil {
		if dbutil.IsNotFound(errModel) {
			return nil, nil
		}
		return nil, errModel
	}
	return &model, nil
}

// Unassign removes the service's binding if one exists.
func (b *Binding) Unassign(ctx context.Context, serviceID uint64) error {
	return b.db.WithContext(ctx).Where("service_id = ?", serviceID).Delete(&models.ServiceRbacModel{}).Error
}

// ListServicesForModel returns the services currently bound to a model.
func (b *Binding) ListServicesForModel(ctx context.Context, modelID uint64) ([]models.Service, error) {
	var rows []models.Service
	errFind := b.db.WithContext(ctx).
		Joins("JOIN service_rbac_models ON service_rbac_models.service_id = services.id").
		Where("service_rbac_models.model_id = ?", modelID).
		Order("services.id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
