package handlers

import (
	"github.com/authhub/authhub/internal/models"
	"github.com/gin-gonic/gin"
)

// ContextUserKey is the gin context key holding the authenticated user.
const ContextUserKey = "authUser"

// CurrentUser returns the authenticated user set by the auth middleware,
// or nil on unauthenticated requests.
func CurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
