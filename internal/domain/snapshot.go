package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies how an entity moved relative to the previous version.
type ChangeType string

const (
	ChangeTypeCreate     ChangeType = "create"
	ChangeTypeUpdate     ChangeType = "update"
	ChangeTypeDelete     ChangeType = "delete"
	ChangeTypeActivate   ChangeType = "activate"
	ChangeTypeDeactivate ChangeType = "deactivate"
)

// Valid reports whether the change type is one of the known values.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeTypeCreate, ChangeTypeUpdate, ChangeTypeDelete, ChangeTypeActivate, ChangeTypeDeactivate:
		return true
	}
	return false
}

// EntitySnapshot is the serialized state of one catalog entity captured at
// version-creation time. Rows are insert-only; they are born with their
// owning version and remain queryable even after the version is soft-deleted.
type EntitySnapshot struct {
	ID               uuid.UUID      `json:"id"`
	VersionID        uuid.UUID      `json:"version_id"`
	EntityType       EntityType     `json:"entity_type"`
	OriginalEntityID uuid.UUID      `json:"original_entity_id"`
	Path             string         `json:"path"`
	Properties       map[string]any `json:"properties"`
	IsActive         bool           `json:"is_active"`
	ChangeType       ChangeType     `json:"change_type"`
	ChangedFields    []string       `json:"changed_fields,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewSnapshotFromEntity captures a live catalog entity into a snapshot row
// owned by the given version.
func NewSnapshotFromEntity(versionID uuid.UUID, entity CatalogEntity) EntitySnapshot {
	return EntitySnapshot{
		ID:               uuid.New(),
		VersionID:        versionID,
		EntityType:       entity.EntityType,
		OriginalEntityID: entity.ID,
		Path:             entity.Path,
		Properties:       CopyProperties(entity.Properties),
		IsActive:         entity.IsActive,
		ChangeType:       ChangeTypeCreate,
	}
}

// SnapshotSet is one version's full snapshot content keyed by entity type and
// original entity id. It is the working form for diffing and reconciliation.
type SnapshotSet map[EntityType]map[uuid.UUID]EntitySnapshot

// NewSnapshotSet allocates an empty set with a bucket per entity type.
func NewSnapshotSet() SnapshotSet {
	set := make(SnapshotSet, len(EntityTypes))
	for _, entityType := range EntityTypes {
		set[entityType] = map[uuid.UUID]EntitySnapshot{}
	}
	return set
}

// Insert places a snapshot into its type bucket.
func (s SnapshotSet) Insert(snap EntitySnapshot) {
	bucket, ok := s[snap.EntityType]
	if !ok {
		bucket = map[uuid.UUID]EntitySnapshot{}
		s[snap.EntityType] = bucket
	}
	bucket[snap.OriginalEntityID] = snap
}

// Counts returns the number of snapshot rows per entity type. Every known
// type appears in the result, zero-valued when empty.
func (s SnapshotSet) Counts() map[EntityType]int {
	counts := make(map[EntityType]int, len(EntityTypes))
	for _, entityType := range EntityTypes {
		counts[entityType] = len(s[entityType])
	}
	return counts
}

// Len returns the total number of snapshot rows across all types.
func (s SnapshotSet) Len() int {
	total := 0
	for _, bucket := range s {
		total += len(bucket)
	}
	return total
}
