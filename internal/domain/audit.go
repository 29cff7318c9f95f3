package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names the logical operation an audit entry belongs to.
type AuditAction string

const (
	ActionVersionCreate    AuditAction = "version_create"
	ActionVersionPublish   AuditAction = "version_publish"
	ActionVersionRollback  AuditAction = "version_rollback"
	ActionVersionDelete    AuditAction = "version_delete"
	ActionVersionSchedule  AuditAction = "version_schedule"
	ActionEntityCreate     AuditAction = "entity_create"
	ActionEntityUpdate     AuditAction = "entity_update"
	ActionEntityDelete     AuditAction = "entity_delete"
	ActionEntityActivate   AuditAction = "entity_activate"
	ActionEntityDeactivate AuditAction = "entity_deactivate"
)

// AuditLogEntry records one catalog or version mutation. Entries are
// append-only: written inside the same transaction as the mutation they
// describe and never updated or deleted afterwards.
type AuditLogEntry struct {
	ID         uuid.UUID      `json:"id"`
	VersionID  *uuid.UUID     `json:"version_id,omitempty"`
	Action     AuditAction    `json:"action"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	ChangeType ChangeType     `json:"change_type"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Actor      string         `json:"actor"`
	BatchID    uuid.UUID      `json:"batch_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
