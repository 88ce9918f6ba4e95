// Package handlers implements the HTTP endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/authhub/authhub/internal/gateway"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/token"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves registration and the login flows.
type AuthHandler struct {
	gateway *gateway.Gateway
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(gw *gateway.Gateway) *AuthHandler {
	return &AuthHandler{gateway: gw}
}

// registerRequest defines the request body for email registration.
type registerRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	ServiceID *uint64 `json:"service_id"`
}

// Register creates an email/password account and issues a token.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	user, errRegister := h.gateway.RegisterByEmail(ctx, body.Email, body.Password)
	if errRegister != nil {
		switch {
		case errors.Is(errRegister, gateway.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(errRegister, gateway.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": errRegister.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		}
		return
	}

	signed, claims, errIssue := h.gateway.Authenticate(ctx, user, body.ServiceID)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": signed, "user": userResponse(user), "claims": claims})
}

// loginRequest defines the request body for email login.
type loginRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	ServiceID *uint64 `json:"service_id"`
}

// Login authenticates an email/password pair and issues a token. Accounts
// with TOTP enabled get mfa_required and must finish via LoginTOTP.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	user, errLogin := h.gateway.LoginByEmail(ctx, body.Email, body.Password)
	if errLogin != nil {
		if errors.Is(errLogin, gateway.ErrMFARequired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "totp code required", "mfa_required": true})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, user, body.ServiceID)
}

// loginTOTPRequest defines the request body for the TOTP login step.
type loginTOTPRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Code      string  `json:"code"`
	ServiceID *uint64 `json:"service_id"`
}

// LoginTOTP completes a login for a TOTP-enrolled account.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	user, errLogin := h.gateway.LoginByEmailTOTP(c.Request.Context(), body.Email, body.Password, body.Code)
	if errLogin != nil {
		if errors.Is(errLogin, gateway.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errLogin.Error()})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, user, body.ServiceID)
}

// uuidLoginRequest defines the request body for UUID login.
type uuidLoginRequest struct {
	UUID      string  `json:"uuid"`
	ServiceID *uint64 `json:"service_id"`
}

// UUIDLogin logs in by bare UUID, registering the identity on first sight.
// An empty uuid mints a fresh one.
func (h *AuthHandler) UUIDLogin(c *gin.Context) {
	var body uuidLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	user, errLogin := h.gateway.LoginOrRegisterByUUID(c.Request.Context(), body.UUID)
	if errLogin != nil {
		if errors.Is(errLogin, gateway.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed uuid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.issue(c, user, body.ServiceID)
}

// NostrChallenge returns a fresh single-use challenge for Nostr login.
func (h *AuthHandler) NostrChallenge(c *gin.Context) {
	challenge, expiresAt, errIssue := h.gateway.IssueChallenge()
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "challenge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": challenge, "expires_at": expiresAt})
}

// nostrVerifyRequest defines the request body for Nostr login.
type nostrVerifyRequest struct {
	Pubkey    string  `json:"pubkey"`
	Signature string  `json:"signature"`
	Challenge string  `json:"challenge"`
	ServiceID *uint64 `json:"service_id"`
}

// NostrVerify checks a schnorr-signed challenge and issues a token,
// registering the pubkey on first login.
func (h *AuthHandler) NostrVerify(c *gin.Context) {
	var body nostrVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	user, errLogin := h.gateway.LoginByNostr(c.Request.Context(), body.Pubkey, body.Signature, body.Challenge)
	if errLogin != nil {
		if errors.Is(errLogin, gateway.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature or challenge"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.issue(c, user, body.ServiceID)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{
		"id":           user.ID,
		"email":        emailOrEmpty(user),
		"nostr_pubkey": pubkeyOrEmpty(user),
		"role":         user.Role,
		"totp_enabled": user.TOTPEnabled,
		"created_at":   user.CreatedAt,
	}})
}

// issue runs the resolve-then-sign pipeline and writes the login response.
func (h *AuthHandler) issue(c *gin.Context, user *models.User, serviceID *uint64) {
	signed, claims, errIssue := h.gateway.Authenticate(c.Request.Context(), user, serviceID)
	if errIssue != nil {
		if errors.Is(errIssue, token.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "user": userResponse(user), "claims": claims})
}

// userResponse is the compact user shape embedded in login responses.
func userResponse(user *models.User) gin.H {
	return gin.H{
		"id":    user.ID,
		"email": emailOrEmpty(user),
		"role":  user.Role,
	}
}

func emailOrEmpty(user *models.User) string {
	if user.Email == nil {
		return ""
	}
	return *user.Email
}

func pubkeyOrEmpty(user *models.User) string {
	if user.NostrPubkey == nil {
		return ""
	}
	return strings.ToLower(*user.NostrPubkey)
}
