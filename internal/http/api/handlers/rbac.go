package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/gin-gonic/gin"
)

// RbacHandler manages RBAC models, roles, permissions, and grants.
type RbacHandler struct {
	store *rbac.Store
}

// NewRbacHandler constructs an RbacHandler.
func NewRbacHandler(store *rbac.Store) *RbacHandler {
	return &RbacHandler{store: store}
}

// parseIDParam reads a numeric path parameter.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeRbacError maps store errors onto HTTP responses.
func writeRbacError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, rbac.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, rbac.ErrValidation), errors.Is(err, rbac.ErrRoleModelMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// namedCreateRequest is the shared create body for models, roles, and
// permissions.
type namedCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateModel creates an RBAC model.
func (h *RbacHandler) CreateModel(c *gin.Context) {
	var body namedCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	model, errCreate := h.store.CreateModel(c.Request.Context(), body.Name, body.Description)
	if errCreate != nil {
		writeRbacError(c, errCreate, "create model failed")
		return
	}
	c.JSON(http.StatusCreated, modelResponse(model))
}

// ListModels returns all RBAC models.
func (h *RbacHandler) ListModels(c *gin.Context) {
	rows, errList := h.store.ListModels(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, modelResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// GetModel returns one model with its roles and permissions.
func (h *RbacHandler) GetModel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	model, errGet := h.store.GetModel(ctx, id)
	if errGet != nil {
		writeRbacError(c, errGet, "query failed")
		return
	}
	roles, errRoles := h.store.ListRoles(ctx, id)
	if errRoles != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	perms, errPerms := h.store.ListPermissions(ctx, id)
	if errPerms != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	roleOut := make([]gin.H, 0, len(roles))
	for i := range roles {
		roleOut = append(roleOut, roleResponse(&roles[i]))
	}
	permOut := make([]gin.H, 0, len(perms))
	for i := range perms {
		permOut = append(permOut, permissionResponse(&perms[i]))
	}
	resp := modelResponse(model)
	resp["roles"] = roleOut
	resp["permissions"] = permOut
	c.JSON(http.StatusOK, resp)
}

// DeleteModel removes a model and everything scoped to it.
func (h *RbacHandler) DeleteModel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if errDelete := h.store.DeleteModel(c.Request.Context(), id); errDelete != nil {
		writeRbacError(c, errDelete, "delete model failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateRole creates a role inside a model.
func (h *RbacHandler) CreateRole(c *gin.Context) {
	modelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body namedCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	role, errCreate := h.store.CreateRole(c.Request.Context(), modelID, body.Name, body.Description)
	if errCreate != nil {
		writeRbacError(c, errCreate, "create role failed")
		return
	}
	c.JSON(http.StatusCreated, roleResponse(role))
}

// ListRoles returns a model's roles.
func (h *RbacHandler) ListRoles(c *gin.Context) {
	modelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, errGet := h.store.GetModel(ctx, modelID); errGet != nil {
		writeRbacError(c, errGet, "query failed")
		return
	}
	rows, errList := h.store.ListRoles(ctx, modelID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list roles failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, roleResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

// DeleteRole removes a role, its grants, and its assignments.
func (h *RbacHandler) DeleteRole(c *gin.Context) {
	roleID, ok := parseIDParam(c, "roleId")
	if !ok {
		return
	}
	if errDelete := h.store.DeleteRole(c.Request.Context(), roleID); errDelete != nil {
		writeRbacError(c, errDelete, "delete role failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRolePermissions returns a role's granted permissions in grant order.
func (h *RbacHandler) GetRolePermissions(c *gin.Context) {
	roleID, ok := parseIDParam(c, "roleId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	role, errGet := h.store.GetRole(ctx, roleID)
	if errGet != nil {
		writeRbacError(c, errGet, "query failed")
		return
	}
	perms, errPerms := h.store.PermissionsForRole(ctx, roleID)
	if errPerms != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(perms))
	for i := range perms {
		out = append(out, permissionResponse(&perms[i]))
	}
	c.JSON(http.StatusOK, gin.H{"role": roleResponse(role), "permissions": out})
}

// updateGrantsRequest defines the bulk grant/revoke body.
type updateGrantsRequest struct {
	Grant  []uint64 `json:"grant"`
	Revoke []uint64 `json:"revoke"`
}

// UpdateRolePermissions grants and revokes permissions on a role in one
// transaction. A grant outside the role's model rejects the whole request.
func (h *RbacHandler) UpdateRolePermissions(c *gin.Context) {
	roleID, ok := parseIDParam(c, "roleId")
	if !ok {
		return
	}
	var body updateGrantsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errUpdate := h.store.UpdateGrants(c.Request.Context(), roleID, body.Grant, body.Revoke); errUpdate != nil {
		writeRbacError(c, errUpdate, "update grants failed")
		return
	}

	perms, errPerms := h.store.PermissionsForRole(c.Request.Context(), roleID)
	if errPerms != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(perms))
	for i := range perms {
		out = append(out, permissionResponse(&perms[i]))
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}

// CreatePermission creates a permission inside a model.
func (h *RbacHandler) CreatePermission(c *gin.Context) {
	modelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body namedCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	perm, errCreate := h.store.CreatePermission(c.Request.Context(), modelID, body.Name, body.Description)
	if errCreate != nil {
		writeRbacError(c, errCreate, "create permission failed")
		return
	}
	c.JSON(http.StatusCreated, permissionResponse(perm))
}

// ListPermissions returns a model's permissions.
func (h *RbacHandler) ListPermissions(c *gin.Context) {
	modelID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, errGet := h.store.GetModel(ctx, modelID); errGet != nil {
		writeRbacError(c, errGet, "query failed")
		return
	}
	rows, errList := h.store.ListPermissions(ctx, modelID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list permissions failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, permissionResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}

// DeletePermission removes a permission and its grant links.
func (h *RbacHandler) DeletePermission(c *gin.Context) {
	permID, ok := parseIDParam(c, "permissionId")
	if !ok {
		return
	}
	if errDelete := h.store.DeletePermission(c.Request.Context(), permID); errDelete != nil {
		writeRbacError(c, errDelete, "delete permission failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func modelResponse(model *models.RbacModel) gin.H {
	return gin.H{
		"id":          model.ID,
		"name":        model.Name,
		"description": model.Description,
		"created_at":  model.CreatedAt,
		"updated_at":  model.UpdatedAt,
	}
}

func roleResponse(role *models.Role) gin.H {
	return gin.H{
		"id":          role.ID,
		"model_id":    role.ModelID,
		"name":        role.Name,
		"description": role.Description,
		"created_at":  role.CreatedAt,
		"updated_at":  role.UpdatedAt,
	}
}

func permissionResponse(perm *models.Permission) gin.H {
	return gin.H{
		"id":          perm.ID,
		"model_id":    perm.ModelID,
		"name":        perm.Name,
		"description": perm.Description,
		"resource":    perm.Resource,
		"action":      perm.Action,
		"created_at":  perm.CreatedAt,
	}
}
