package domain

import (
	"time"

	"github.com/google/uuid"
)

// VersionType records how a version came to exist.
type VersionType string

const (
	VersionTypeManual    VersionType = "manual"
	VersionTypeScheduled VersionType = "scheduled"
	VersionTypeRollback  VersionType = "rollback"
	VersionTypeMigration VersionType = "migration"
	VersionTypeAutoSave  VersionType = "auto_save"
)

// Valid reports whether the version type is one of the known types.
func (t VersionType) Valid() bool {
	switch t {
	case VersionTypeManual, VersionTypeScheduled, VersionTypeRollback, VersionTypeMigration, VersionTypeAutoSave:
		return true
	}
	return false
}

// ChangeCounts aggregates diff results for one entity type.
type ChangeCounts struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

// Total returns the sum of all counted changes.
func (c ChangeCounts) Total() int {
	return c.Added + c.Removed + c.Modified
}

// ChangesSummary aggregates diff results per entity type plus overall totals.
type ChangesSummary struct {
	PerType map[EntityType]ChangeCounts `json:"per_type"`
	Totals  ChangeCounts                `json:"totals"`
}

// NewChangesSummary returns an empty summary with the per-type map allocated.
func NewChangesSummary() ChangesSummary {
	return ChangesSummary{PerType: map[EntityType]ChangeCounts{}}
}

// Add accumulates counts for one entity type into the summary.
func (s *ChangesSummary) Add(entityType EntityType, counts ChangeCounts) {
	if s.PerType == nil {
		s.PerType = map[EntityType]ChangeCounts{}
	}
	existing := s.PerType[entityType]
	existing.Added += counts.Added
	existing.Removed += counts.Removed
	existing.Modified += counts.Modified
	s.PerType[entityType] = existing
	s.Totals.Added += counts.Added
	s.Totals.Removed += counts.Removed
	s.Totals.Modified += counts.Modified
}

// Version is an immutable named snapshot of the entire catalog plus lifecycle
// metadata. Once a version's creation commits, its snapshot content never
// changes; only IsActive, IsPublished, ScheduledPublishAt and DeletedAt move,
// and only through the versioning service.
type Version struct {
	ID                 uuid.UUID          `json:"id"`
	VersionNumber      int64              `json:"version_number"`
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Type               VersionType        `json:"type"`
	IsActive           bool               `json:"is_active"`
	IsPublished        bool               `json:"is_published"`
	PublishedAt        *time.Time         `json:"published_at,omitempty"`
	ScheduledPublishAt *time.Time         `json:"scheduled_publish_at,omitempty"`
	CreatedBy          string             `json:"created_by"`
	ParentVersionID    *uuid.UUID         `json:"parent_version_id,omitempty"`
	EntityCounts       map[EntityType]int `json:"entity_counts"`
	ChangesSummary     *ChangesSummary    `json:"changes_summary,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	DeletedAt          *time.Time         `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the version has been soft-deleted.
func (v Version) IsDeleted() bool {
	return v.DeletedAt != nil
}

// IsScheduled reports whether the version is waiting on a future publish.
func (v Version) IsScheduled() bool {
	return !v.IsPublished && v.ScheduledPublishAt != nil
}

// CanDelete reports whether the lifecycle permits a soft delete. Only draft
// and never-published versions qualify; anything that is or was live stays.
func (v Version) CanDelete() bool {
	return !v.IsActive && !v.IsPublished && !v.IsDeleted()
}
