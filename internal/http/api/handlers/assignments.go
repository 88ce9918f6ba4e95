package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/authhub/authhub/internal/models"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/gin-gonic/gin"
)

// AssignmentHandler manages user-service-role assignments.
type AssignmentHandler struct {
	assignments *rbac.Assignments
}

// NewAssignmentHandler constructs an AssignmentHandler.
func NewAssignmentHandler(assignments *rbac.Assignments) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments}
}

// assignRequest defines the request body for role assignment.
type assignRequest struct {
	UserID    string `json:"user_id"`
	ServiceID uint64 `json:"service_id"`
	RoleID    uint64 `json:"role_id"`
}

// Assign gives a user a role scoped to a service, replacing any prior role
// there. The role must belong to the model bound to the service.
func (h *AssignmentHandler) Assign(c *gin.Context) {
	var body assignRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errAssign := h.assignments.Assign(c.Request.Context(), strings.TrimSpace(body.UserID), body.ServiceID, body.RoleID)
	if errAssign != nil {
		writeRbacError(c, errAssign, "assign role failed")
		return
	}
	c.JSON(http.StatusOK, assignmentResponse(row))
}

// Remove deletes a user's role assignment for a service.
func (h *AssignmentHandler) Remove(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	serviceID, errParse := strconv.ParseUint(strings.TrimSpace(c.Query("service_id")), 10, 64)
	if userID == "" || errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and service_id are required"})
		return
	}
	if errRemove := h.assignments.Remove(c.Request.Context(), userID, serviceID); errRemove != nil {
		writeRbacError(c, errRemove, "remove assignment failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// List returns assignments filtered by user or service.
func (h *AssignmentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		rows, errList := h.assignments.ListForUser(ctx, userID)
		if errList != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list assignments failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"assignments": assignmentsResponse(rows)})
		return
	}

	serviceQ := strings.TrimSpace(c.Query("service_id"))
	if serviceQ == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or service_id is required"})
		return
	}
	serviceID, errParse := strconv.ParseUint(serviceQ, 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service_id"})
		return
	}
	rows, errList := h.assignments.ListForService(ctx, serviceID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list assignments failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignmentsResponse(rows)})
}

func assignmentResponse(row *models.UserServiceRole) gin.H {
	return gin.H{
		"id":         row.ID,
		"user_id":    row.UserID,
		"service_id": row.ServiceID,
		"role_id":    row.RoleID,
		"created_at": row.CreatedAt,
		"updated_at": row.UpdatedAt,
	}
}

func assignmentsResponse(rows []models.UserServiceRole) []gin.H {
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, assignmentResponse(&rows[i]))
	}
	return out
}
