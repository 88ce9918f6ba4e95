package handlers

import (
	"net/http"
	"strings"
	"time"

	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminUserHandler manages user accounts through the admin surface.
type AdminUserHandler struct {
	db *gorm.DB
}

// NewAdminUserHandler constructs an AdminUserHandler.
func NewAdminUserHandler(db *gorm.DB) *AdminUserHandler {
	return &AdminUserHandler{db: db}
}

// List returns users with optional filters.
func (h *AdminUserHandler) List(c *gin.Context) {
	var (
		emailQ = strings.TrimSpace(c.Query("email"))
		roleQ  = strings.TrimSpace(c.Query("role"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if emailQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+emailQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "email"), pattern)
	}
	if roleQ != "" {
		q = q.Where("role = ?", roleQ)
	}

	var rows []models.User
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, adminUserResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// Get returns a user by ID.
func (h *AdminUserHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, adminUserResponse(&user))
}

// updateUserRequest defines the request body for admin user updates.
type updateUserRequest struct {
	Role *string `json:"role"`
}

// Update changes a user's system role.
func (h *AdminUserHandler) Update(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Role != nil {
		role := strings.TrimSpace(*body.Role)
		if role != models.SystemRoleAdmin && role != models.SystemRoleUser {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		updates["role"] = role
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a user account and its role assignments.
func (h *AdminUserHandler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()

	var user models.User
	if errFind := h.db.WithContext(ctx).First(&user, "id = ?", id).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("user_id = ?", id).Delete(&models.UserServiceRole{}).Error; errDel != nil {
			return errDel
		}
		return tx.Delete(&models.User{}, "id = ?", id).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func adminUserResponse(user *models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"email":        emailOrEmpty(user),
		"nostr_pubkey": pubkeyOrEmpty(user),
		"role":         user.Role,
		"totp_enabled": user.TOTPEnabled,
		"created_at":   user.CreatedAt,
		"updated_at":   user.UpdatedAt,
	}
}
