package domain

import (
	"time"

	"github.com/google/uuid"
)

// DiffKind partitions comparison results.
type DiffKind string

const (
	DiffAdded    DiffKind = "added"
	DiffRemoved  DiffKind = "removed"
	DiffModified DiffKind = "modified"
)

// FieldDiff is one field-level difference between two snapshots of the same
// entity. Field names are flattened dotted paths into the property bag.
type FieldDiff struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// EntityDiff describes how one entity differs between two versions.
// Fields is populated for modified entities when details were requested.
type EntityDiff struct {
	EntityType       EntityType  `json:"entity_type"`
	OriginalEntityID uuid.UUID   `json:"original_entity_id"`
	Path             string      `json:"path"`
	Kind             DiffKind    `json:"kind"`
	Fields           []FieldDiff `json:"fields,omitempty"`
}

// Comparison is the deterministic structural diff between two versions.
// Entries appear in canonical entity-type order, then ascending by original
// entity id; unchanged entities are excluded.
type Comparison struct {
	FromVersionID uuid.UUID      `json:"from_version_id"`
	ToVersionID   uuid.UUID      `json:"to_version_id"`
	Summary       ChangesSummary `json:"summary"`
	Details       []EntityDiff   `json:"details,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
