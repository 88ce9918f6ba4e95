package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/token"
	"github.com/authhub/authhub/internal/vault"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ServiceHandler manages registered services, their signing secrets, and
// their RBAC model bindings.
type ServiceHandler struct {
	db       *gorm.DB
	vault    *vault.Vault
	binding  *rbac.Binding
	verifier *token.Verifier
	recorder *audit.Recorder
}

// NewServiceHandler constructs a ServiceHandler.
func NewServiceHandler(db *gorm.DB, v *vault.Vault, binding *rbac.Binding, verifier *token.Verifier, recorder *audit.Recorder) *ServiceHandler {
	return &ServiceHandler{db: db, vault: v, binding: binding, verifier: verifier, recorder: recorder}
}

// createServiceRequest defines the request body for service registration.
type createServiceRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	RedirectURL string `json:"redirect_url"`
}

// Create registers a service and provisions its signing secret. The
// plaintext secret appears in this response and never again.
func (h *ServiceHandler) Create(c *gin.Context) {
	var body createServiceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	secret, errGenerate := vault.GenerateSecret()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provision secret failed"})
		return
	}
	encrypted, errEncrypt := h.vault.Encrypt(secret)
	if errEncrypt != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provision secret failed"})
		return
	}

	now := time.Now().UTC()
	service := models.Service{
		Name:            name,
		URL:             strings.TrimSpace(body.URL),
		RedirectURL:     strings.TrimSpace(body.RedirectURL),
		EncryptedSecret: encrypted,
		SecretPreview:   vault.Preview(secret),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&service).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "service name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create service failed"})
		return
	}

	resp := serviceResponse(&service)
	resp["secret"] = secret
	c.JSON(http.StatusCreated, resp)
}

// List returns all registered services.
func (h *ServiceHandler) List(c *gin.Context) {
	var rows []models.Service
	if errFind := h.db.WithContext(c.Request.Context()).Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list services failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serviceResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

// Get returns a service along with its bound RBAC model, if any.
func (h *ServiceHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var service models.Service
	if errFind := h.db.WithContext(ctx).First(&service, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	resp := serviceResponse(&service)
	model, errModel := h.binding.Get(ctx, id)
	if errModel != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if model != nil {
		resp["rbac_model"] = gin.H{"id": model.ID, "name": model.Name}
	}
	c.JSON(http.StatusOK, resp)
}

// updateServiceRequest defines the request body for service updates.
type updateServiceRequest struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	RedirectURL *string `json:"redirect_url"`
}

// Update modifies a service's registration fields. Secrets rotate only
// through RotateSecret.
func (h *ServiceHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body updateServiceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name != "" {
			updates["name"] = name
		}
	}
	if body.URL != nil {
		updates["url"] = strings.TrimSpace(*body.URL)
	}
	if body.RedirectURL != nil {
		updates["redirect_url"] = strings.TrimSpace(*body.RedirectURL)
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Service{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if dbutil.IsUniqueViolation(res.Error) {
			c.JSON(http.StatusConflict, gin.H{"error": "service name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a service, its model binding, and its role assignments.
func (h *ServiceHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var service models.Service
	if errFind := h.db.WithContext(ctx).First(&service, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("service_id = ?", id).Delete(&models.UserServiceRole{}).Error; errDel != nil {
			return errDel
		}
		if errDel := tx.Where("service_id = ?", id).Delete(&models.ServiceRbacModel{}).Error; errDel != nil {
			return errDel
		}
		return tx.Delete(&models.Service{}, id).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateSecret replaces the service's signing secret. Tokens signed with
// the old secret fail verification from this point on. The new plaintext
// appears in this response and never again.
func (h *ServiceHandler) RotateSecret(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var service models.Service
	if errFind := h.db.WithContext(ctx).First(&service, id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	secret, errGenerate := vault.GenerateSecret()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rotate secret failed"})
		return
	}
	encrypted, errEncrypt := h.vault.Encrypt(secret)
	if errEncrypt != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rotate secret failed"})
		return
	}

	res := h.db.WithContext(ctx).Model(&models.Service{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"encrypted_secret": encrypted,
			"secret_preview":   vault.Preview(secret),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rotate secret failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	h.recorder.Record(ctx, audit.Entry{
		Event:      audit.EventSecretRotated,
		ActorID:    actorID(c),
		Action:     "service signing secret rotated",
		TargetName: service.Name,
		Payload:    map[string]any{"service_id": service.ID},
	})
	c.JSON(http.StatusOK, gin.H{"secret": secret, "secret_preview": vault.Preview(secret)})
}

// bindModelRequest defines the request body for binding an RBAC model.
type bindModelRequest struct {
	ModelID uint64 `json:"model_id"`
}

// BindModel binds an RBAC model to the service, replacing any prior one.
func (h *ServiceHandler) BindModel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body bindModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errAssign := h.binding.Assign(c.Request.Context(), id, body.ModelID); errAssign != nil {
		writeRbacError(c, errAssign, "bind model failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UnbindModel removes the service's RBAC model binding.
func (h *ServiceHandler) UnbindModel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if errUnassign := h.binding.Unassign(c.Request.Context(), id); errUnassign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unbind model failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// VerifyToken validates a presented token against the service's current
// signing key. Verification failures are a 200 with valid:false and a
// reason code, not an HTTP error.
func (h *ServiceHandler) VerifyToken(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	raw := bearerToken(c)
	if raw == "" {
		raw = strings.TrimSpace(c.Query("token"))
	}
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	claims, errVerify := h.verifier.Verify(c.Request.Context(), raw, &id)
	if errVerify != nil {
		if errors.Is(errVerify, token.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		if errors.Is(errVerify, vault.ErrDecryption) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": token.Reason(errVerify)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "claims": claims})
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	if raw == authHeader {
		return ""
	}
	return strings.TrimSpace(raw)
}

// actorID returns the authenticated user's ID or empty.
func actorID(c *gin.Context) string {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return ""
}

func serviceResponse(service *models.Service) gin.H {
	return gin.H{
		"id":             service.ID,
		"name":           service.Name,
		"url":            service.URL,
		"redirect_url":   service.RedirectURL,
		"secret_preview": service.SecretPreview,
		"created_at":     service.CreatedAt,
		"updated_at":     service.UpdatedAt,
	}
}
