// Package audit appends security events to an immutable log table and
// mirrors them to the process logger.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/authhub/authhub/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Well-known audit events.
const (
	EventLogin           = "auth.login"
	EventRegister        = "auth.register"
	EventStaleAssignment = "rbac.stale_assignment"
	EventDecryptFailure  = "vault.decrypt_failure"
	EventSecretRotated   = "service.secret_rotated"
	EventModelDeleted    = "rbac.model_deleted"
)

// Entry describes a single audit event before persistence.
type Entry struct {
	Event      string
	Severity   string
	ActorID    string
	Action     string
	TargetName string
	Payload    map[string]any
}

// Recorder writes append-only audit rows.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record persists the entry and mirrors it to logrus. Persistence failures
// are logged but never propagated: audit must not break the operation it
// describes.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	entry.Event = strings.TrimSpace(entry.Event)
	if entry.Event == "" {
		return
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityInfo
	}

	var payload datatypes.JSON
	if len(entry.Payload) > 0 {
		if data, errMarshal := json.Marshal(entry.Payload); errMarshal == nil {
			payload = datatypes.JSON(data)
		}
	}

	fields := log.Fields{"event": entry.Event, "severity": entry.Severity}
	if entry.ActorID != "" {
		fields["actor_id"] = entry.ActorID
	}
	if entry.TargetName != "" {
		fields["target"] = entry.TargetName
	}
	switch entry.Severity {
	case models.SeverityCritical, models.SeverityError:
		log.WithFields(fields).Error(entry.Action)
	case models.SeverityWarning:
		log.WithFields(fields).Warn(entry.Action)
	default:
		log.WithFields(fields).Info(entry.Action)
	}

	if r == nil || r.db == nil {
		return
	}
	row := models.AuditLog{
		Event:      entry.Event,
		Severity:   entry.Severity,
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		TargetName: entry.TargetName,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("audit append failed")
	}
}

// Filter narrows audit log queries.
type Filter struct {
	Event    string
	Severity string
	Limit    int
	Offset   int
}

// List returns audit rows newest-first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]models.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	var rows []models.AuditLog
	if errFind := q.Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
