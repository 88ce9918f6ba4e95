package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/gateway"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/token"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RedirectLoginHandler serves the browser login handoff: a service sends
// the user here, the hub identifies them, and redirects back with a token.
type RedirectLoginHandler struct {
	db       *gorm.DB
	gateway  *gateway.Gateway
	verifier *token.Verifier
}

// NewRedirectLoginHandler constructs a RedirectLoginHandler.
func NewRedirectLoginHandler(db *gorm.DB, gw *gateway.Gateway, verifier *token.Verifier) *RedirectLoginHandler {
	return &RedirectLoginHandler{db: db, gateway: gw, verifier: verifier}
}

// Login handles GET /login?service_id=&redirect_uri=[&uuid=]. The user is
// identified by a bearer token when present, otherwise by the uuid
// parameter. The redirect target must extend the service's registered
// redirect URL; nothing else is accepted.
func (h *RedirectLoginHandler) Login(c *gin.Context) {
	serviceID, errParse := strconv.ParseUint(strings.TrimSpace(c.Query("service_id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service_id"})
		return
	}
	redirectURI := strings.TrimSpace(c.Query("redirect_uri"))
	if redirectURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing redirect_uri"})
		return
	}

	target, errURL := url.Parse(redirectURI)
	if errURL != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed redirect_uri"})
		return
	}

	ctx := c.Request.Context()
	var service models.Service
	if errFind := h.db.WithContext(ctx).First(&service, serviceID).Error; errFind != nil {
		if dbutil.IsNotFound(errFind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !redirectAllowed(service.RedirectURL, target) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "redirect_uri not registered for service"})
		return
	}

	user, errIdentify := h.identify(c)
	if errIdentify != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unable to identify user"})
		return
	}

	signed, _, errIssue := h.gateway.Authenticate(ctx, user, &serviceID)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}

	query := target.Query()
	query.Set("token", signed)
	query.Set("user_id", user.ID)
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// redirectAllowed reports whether target stays within the service's
// registered redirect URL. A prefix test over the raw strings is not
// enough: "https://svc.example.com.evil.com" and
// "https://svc.example.com@evil.com" both extend the string
// "https://svc.example.com" while pointing at another host. Scheme and
// host must match the registered URL exactly, userinfo is rejected, and
// only the path may extend the registered one.
func redirectAllowed(registered string, target *url.URL) bool {
	base, errParse := url.Parse(registered)
	if errParse != nil || base.Scheme == "" || base.Host == "" {
		return false
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return false
	}
	if target.User != nil {
		return false
	}
	return strings.HasPrefix(target.Path, base.Path)
}

// identify resolves the user from a bearer hub token or the uuid parameter.
func (h *RedirectLoginHandler) identify(c *gin.Context) (*models.User, error) {
	if raw := bearerToken(c); raw != "" {
		claims, errVerify := h.verifier.Verify(c.Request.Context(), raw, nil)
		if errVerify != nil {
			return nil, errVerify
		}
		var user models.User
		if errFind := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", claims.UserID).Error; errFind != nil {
			return nil, errFind
		}
		return &user, nil
	}
	return h.gateway.LoginOrRegisterByUUID(c.Request.Context(), c.Query("uuid"))
}
