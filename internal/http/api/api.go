// Package api wires the gin routes, middleware, and handlers.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/authhub/authhub/internal/audit"
	"github.com/authhub/authhub/internal/gateway"
	"github.com/authhub/authhub/internal/http/api/handlers"
	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/obs"
	"github.com/authhub/authhub/internal/ratelimit"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/token"
	"github.com/authhub/authhub/internal/vault"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// loginRateLimit is the per-IP cap on credential attempts per minute.
const loginRateLimit = 10

// Deps carries the shared components the routes are built on.
type Deps struct {
	DB          *gorm.DB
	Gateway     *gateway.Gateway
	Store       *rbac.Store
	Binding     *rbac.Binding
	Assignments *rbac.Assignments
	Verifier    *token.Verifier
	Vault       *vault.Vault
	Recorder    *audit.Recorder
	Limiter     ratelimit.Limiter
}

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	r.Use(obs.Instrument())

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	throttled := rateLimitMiddleware(deps.Limiter, loginRateLimit)

	authHandler := handlers.NewAuthHandler(deps.Gateway)
	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", throttled, authHandler.Register)
	authGroup.POST("/login", throttled, authHandler.Login)
	authGroup.POST("/login/totp", throttled, authHandler.LoginTOTP)
	authGroup.POST("/uuid-login", throttled, authHandler.UUIDLogin)
	authGroup.POST("/nostr/challenge", throttled, authHandler.NostrChallenge)
	authGroup.POST("/nostr/verify", throttled, authHandler.NostrVerify)

	redirectHandler := handlers.NewRedirectLoginHandler(deps.DB, deps.Gateway, deps.Verifier)
	r.GET("/login", throttled, redirectHandler.Login)

	serviceHandler := handlers.NewServiceHandler(deps.DB, deps.Vault, deps.Binding, deps.Verifier, deps.Recorder)
	r.GET("/api/services/:id/verify-token", serviceHandler.VerifyToken)

	authed := authGroup.Group("")
	authed.Use(authMiddleware(deps.DB, deps.Verifier))
	authed.GET("/me", authHandler.Me)

	totpHandler := handlers.NewTOTPHandler(deps.DB)
	authed.POST("/totp/prepare", totpHandler.Prepare)
	authed.POST("/totp/confirm", totpHandler.Confirm)
	authed.POST("/totp/disable", totpHandler.Disable)

	admin := r.Group("/api")
	admin.Use(authMiddleware(deps.DB, deps.Verifier))
	admin.Use(adminOnlyMiddleware())

	rbacHandler := handlers.NewRbacHandler(deps.Store)
	admin.POST("/admin/rbac/models", rbacHandler.CreateModel)
	admin.GET("/admin/rbac/models", rbacHandler.ListModels)
	admin.GET("/admin/rbac/models/:id", rbacHandler.GetModel)
	admin.DELETE("/admin/rbac/models/:id", rbacHandler.DeleteModel)
	admin.POST("/admin/rbac/models/:id/roles", rbacHandler.CreateRole)
	admin.GET("/admin/rbac/models/:id/roles", rbacHandler.ListRoles)
	admin.POST("/admin/rbac/models/:id/permissions", rbacHandler.CreatePermission)
	admin.GET("/admin/rbac/models/:id/permissions", rbacHandler.ListPermissions)
	admin.DELETE("/admin/rbac/roles/:roleId", rbacHandler.DeleteRole)
	admin.GET("/admin/rbac/roles/:roleId/permissions", rbacHandler.GetRolePermissions)
	admin.PATCH("/admin/rbac/roles/:roleId/permissions", rbacHandler.UpdateRolePermissions)
	admin.DELETE("/admin/rbac/permissions/:permissionId", rbacHandler.DeletePermission)

	admin.POST("/services", serviceHandler.Create)
	admin.GET("/services", serviceHandler.List)
	admin.GET("/services/:id", serviceHandler.Get)
	admin.PATCH("/services/:id", serviceHandler.Update)
	admin.DELETE("/services/:id", serviceHandler.Delete)
	admin.POST("/services/:id/rotate-secret", serviceHandler.RotateSecret)
	admin.POST("/services/:id/rbac-model", serviceHandler.BindModel)
	admin.DELETE("/services/:id/rbac-model", serviceHandler.UnbindModel)

	assignmentHandler := handlers.NewAssignmentHandler(deps.Assignments)
	admin.POST("/admin/user-service-roles", assignmentHandler.Assign)
	admin.GET("/admin/user-service-roles", assignmentHandler.List)
	admin.DELETE("/admin/user-service-roles", assignmentHandler.Remove)

	userHandler := handlers.NewAdminUserHandler(deps.DB)
	admin.GET("/admin/users", userHandler.List)
	admin.GET("/admin/users/:id", userHandler.Get)
	admin.PATCH("/admin/users/:id", userHandler.Update)
	admin.DELETE("/admin/users/:id", userHandler.Delete)

	auditHandler := handlers.NewAuditLogHandler(deps.Recorder)
	admin.GET("/admin/audit-logs", auditHandler.List)
}

// authMiddleware validates hub-signed bearer tokens and loads the user.
func authMiddleware(db *gorm.DB, verifier *token.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		if raw == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errVerify := verifier.Verify(c.Request.Context(), raw, nil)
		if errVerify != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, "id = ?", claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set(handlers.ContextUserKey, &user)
		c.Next()
	}
}

// adminOnlyMiddleware requires the system admin role.
func adminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := handlers.CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if user.Role != models.SystemRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin required"})
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware throttles by client IP.
func rateLimitMiddleware(limiter ratelimit.Limiter, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		result, errAllow := limiter.Allow(c.Request.Context(), c.ClientIP(), limit, time.Now())
		if errAllow != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", result.Reset.UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}
