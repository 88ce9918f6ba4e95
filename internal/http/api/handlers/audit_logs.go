package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/authhub/authhub/internal/audit"
	"github.com/gin-gonic/gin"
)

// AuditLogHandler exposes the append-only audit log to admins.
type AuditLogHandler struct {
	recorder *audit.Recorder
}

// NewAuditLogHandler constructs an AuditLogHandler.
func NewAuditLogHandler(recorder *audit.Recorder) *AuditLogHandler {
	return &AuditLogHandler{recorder: recorder}
}

// List returns audit rows newest-first with optional filters.
func (h *AuditLogHandler) List(c *gin.Context) {
	filter := audit.Filter{
		Event:    strings.TrimSpace(c.Query("event")),
		Severity: strings.TrimSpace(c.Query("severity")),
	}
	if limitQ := strings.TrimSpace(c.Query("limit")); limitQ != "" {
		if limit, errParse := strconv.Atoi(limitQ); errParse == nil {
			filter.Limit = limit
		}
	}
	if offsetQ := strings.TrimSpace(c.Query("offset")); offsetQ != "" {
		if offset, errParse := strconv.Atoi(offsetQ); errParse == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	rows, errList := h.recorder.List(c.Request.Context(), filter)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list audit logs failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"event":      row.Event,
			"severity":   row.Severity,
			"actor_id":   row.ActorID,
			"action":     row.Action,
			"target":     row.TargetName,
			"payload":    row.Payload,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}
