package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TOTPHandler manages TOTP enrollment for the authenticated user.
type TOTPHandler struct {
	db *gorm.DB
}

// NewTOTPHandler constructs a TOTPHandler.
func NewTOTPHandler(db *gorm.DB) *TOTPHandler {
	return &TOTPHandler{db: db}
}

// Prepare generates a pending TOTP secret. Enrollment only takes effect
// after Confirm proves the authenticator holds the secret.
func (h *TOTPHandler) Prepare(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	if user.TOTPEnabled {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enabled"})
		return
	}

	label := user.ID
	if user.Email != nil && *user.Email != "" {
		label = *user.Email
	}
	secret, url, errGenerate := security.GenerateTOTPSecret(label)
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate secret failed"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"totp_secret": secret, "totp_enabled": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store secret failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret, "url": url})
}

// totpCodeRequest defines the request body carrying a TOTP passcode.
type totpCodeRequest struct {
	Code string `json:"code"`
}

// Confirm activates TOTP after verifying a passcode against the pending
// secret.
func (h *TOTPHandler) Confirm(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var body totpCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if user.TOTPSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no pending totp secret"})
		return
	}
	if !security.ValidateTOTP(strings.TrimSpace(body.Code), user.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"totp_enabled": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enable totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Disable turns TOTP off after verifying a current passcode.
func (h *TOTPHandler) Disable(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var body totpCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !user.TOTPEnabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totp not enabled"})
		return
	}
	if !security.ValidateTOTP(strings.TrimSpace(body.Code), user.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"totp_enabled": false, "totp_secret": "", "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
