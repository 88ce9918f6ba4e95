// Package token issues and verifies the hub's JWTs. Claims are a lossless
// serialization of the resolved access so external services can authorize
// locally, with no callback to the hub.
package token

import (
	"time"

	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/golang-jwt/jwt/v5"
)

// TTL is the fixed token lifetime. It is not configurable per call.
const TTL = 7 * 24 * time.Hour

// RoleClaim mirrors the resolved role inside a token.
type RoleClaim struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PermissionClaim mirrors one granted permission inside a token.
type PermissionClaim struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModelClaim mirrors the resolved RBAC model inside a token.
type ModelClaim struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Claims is the token payload: identity, system role, and the resolved
// RBAC context for the target service.
type Claims struct {
	UserID      string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	Role        string            `json:"role"`
	RbacRole    *RoleClaim        `json:"rbacRole"`
	Permissions []PermissionClaim `json:"permissions"`
	RbacModel   *ModelClaim       `json:"rbacModel"`
	jwt.RegisteredClaims
}

// claimsFromAccess maps a ResolvedAccess onto claim fields without loss.
func claimsFromAccess(access rbac.ResolvedAccess) (*RoleClaim, []PermissionClaim, *ModelClaim) {
	var roleClaim *RoleClaim
	if access.Role != nil {
		roleClaim = &RoleClaim{ID: access.Role.ID, Name: access.Role.Name, Description: access.Role.Description}
	}
	perms := make([]PermissionClaim, 0, len(access.Permissions))
	for _, p := range access.Permissions {
		perms = append(perms, PermissionClaim{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	var modelClaim *ModelClaim
	if access.RbacModel != nil {
		modelClaim = &ModelClaim{ID: access.RbacModel.ID, Name: access.RbacModel.Name, Description: access.RbacModel.Description}
	}
	return roleClaim, perms, modelClaim
}

// userEmail returns the user's email or empty when absent.
func userEmail(user *models.User) string {
	if user == nil || user.Email == nil {
		return ""
	}
	return *user.Email
}
