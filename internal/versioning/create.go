package versioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/comparison"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

const maxNameLength = 255

// CreateVersionRequest describes a version capture.
type CreateVersionRequest struct {
	Name            string
	Description     string
	Type            domain.VersionType
	IncludeInactive bool
	// Scope limits the capture to the listed entity types. Empty means the
	// whole catalog.
	Scope     []domain.EntityType
	CreatedBy string
}

// CreateVersion snapshots the current live catalog into a new immutable
// version. The whole capture runs in one transaction: version row, snapshot
// rows, change summary and the audit entry commit together or not at all.
// Version number allocation collisions are retried a bounded number of times
// before surfacing ConcurrencyError.
func (s *Service) CreateVersion(ctx context.Context, req CreateVersionRequest) (domain.Version, error) {
	if !req.Type.Valid() {
		return domain.Version{}, domain.NewValidationError("type", fmt.Sprintf("unknown version type %q", req.Type))
	}
	if len(req.Name) > maxNameLength {
		return domain.Version{}, domain.NewValidationError("name", "must be at most 255 characters")
	}
	for _, entityType := range req.Scope {
		if !entityType.Valid() {
			return domain.Version{}, domain.NewValidationError("scope", fmt.Sprintf("unknown entity type %q", entityType))
		}
	}
	if req.CreatedBy == "" {
		req.CreatedBy = auth.ActorOrSystem(ctx)
	}

	var created domain.Version
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		created, lastErr = s.captureVersion(ctx, req)
		if lastErr == nil {
			s.logger.Info("version created",
				zap.String("version_id", created.ID.String()),
				zap.Int64("version_number", created.VersionNumber),
				zap.String("type", string(created.Type)),
			)
			return created, nil
		}

		var conflict *domain.ConflictError
		if !errors.As(lastErr, &conflict) {
			return domain.Version{}, lastErr
		}
		s.logger.Warn("version number collision, retrying",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		s.backoff(attempt)
	}

	return domain.Version{}, domain.NewConcurrencyError("create_version", s.maxAttempts)
}

// CreateAutoSaveVersion is the entry point the change trigger monitor uses.
func (s *Service) CreateAutoSaveVersion(ctx context.Context, reason string) (domain.Version, error) {
	return s.CreateVersion(ctx, CreateVersionRequest{
		Description:     reason,
		Type:            domain.VersionTypeAutoSave,
		IncludeInactive: true,
	})
}

func (s *Service) captureVersion(ctx context.Context, req CreateVersionRequest) (domain.Version, error) {
	var created domain.Version

	err := s.tx.WithTx(ctx, func(tx db.DBTX) error {
		number, err := s.versions.NextVersionNumber(ctx, tx)
		if err != nil {
			return err
		}

		parent, err := s.versions.GetActive(ctx)
		if err != nil {
			return err
		}

		name := req.Name
		if name == "" {
			name = fmt.Sprintf("v%d", number)
		}

		version := domain.Version{
			ID:            uuid.New(),
			VersionNumber: number,
			Name:          name,
			Description:   req.Description,
			Type:          req.Type,
			CreatedBy:     req.CreatedBy,
		}
		if parent != nil {
			parentID := parent.ID
			version.ParentVersionID = &parentID
		}

		created, err = s.versions.Create(ctx, tx, version)
		if err != nil {
			return err
		}

		live, err := s.catalog.ListEntities(ctx, tx, req.IncludeInactive)
		if err != nil {
			return err
		}
		live = filterScope(live, req.Scope)

		var parentSet domain.SnapshotSet
		if parent != nil {
			parentSet, err = s.snapshots.LoadVersionSet(ctx, parent.ID)
			if err != nil {
				return err
			}
		}

		rows := buildSnapshotRows(created.ID, live, parentSet)
		if len(rows) > 0 {
			if _, err := s.snapshots.BulkInsert(ctx, tx, rows); err != nil {
				return err
			}
		}

		newSet := domain.NewSnapshotSet()
		for _, row := range rows {
			newSet.Insert(row)
		}

		created.EntityCounts = newSet.Counts()
		if parentSet != nil {
			summary, _ := comparison.CompareSets(parentSet, newSet, false)
			created.ChangesSummary = &summary
		}
		if err := s.versions.UpdateChangeData(ctx, tx, created.ID, created.EntityCounts, created.ChangesSummary); err != nil {
			return err
		}

		versionID := created.ID
		_, err = s.audit.Write(ctx, tx, domain.AuditLogEntry{
			VersionID:  &versionID,
			Action:     domain.ActionVersionCreate,
			EntityID:   created.ID,
			ChangeType: domain.ChangeTypeCreate,
			Actor:      req.CreatedBy,
			Metadata: map[string]any{
				"version_number":   created.VersionNumber,
				"version_type":     string(created.Type),
				"snapshot_count":   newSet.Len(),
				"include_inactive": req.IncludeInactive,
			},
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	return created, nil
}

func filterScope(live []domain.CatalogEntity, scope []domain.EntityType) []domain.CatalogEntity {
	if len(scope) == 0 {
		return live
	}
	wanted := make(map[domain.EntityType]struct{}, len(scope))
	for _, entityType := range scope {
		wanted[entityType] = struct{}{}
	}
	filtered := live[:0]
	for _, entity := range live {
		if _, ok := wanted[entity.EntityType]; ok {
			filtered = append(filtered, entity)
		}
	}
	return filtered
}

// buildSnapshotRows captures live entities and classifies each against the
// parent version's snapshot of the same entity.
func buildSnapshotRows(versionID uuid.UUID, live []domain.CatalogEntity, parentSet domain.SnapshotSet) []domain.EntitySnapshot {
	rows := make([]domain.EntitySnapshot, 0, len(live))
	for _, entity := range live {
		snap := domain.NewSnapshotFromEntity(versionID, entity)

		if parentSet != nil {
			if prior, ok := parentSet[entity.EntityType][entity.ID]; ok {
				diffs := comparison.DiffSnapshots(prior, snap)
				snap.ChangedFields = comparison.ChangedFieldNames(diffs)
				snap.ChangeType = classifyChange(prior, snap, diffs)
			}
		}

		rows = append(rows, snap)
	}
	return rows
}

// classifyChange maps a field diff onto the snapshot change type. A change
// that only flips the live flag is an activation or deactivation; anything
// else that differs is an update.
func classifyChange(prior, current domain.EntitySnapshot, diffs []domain.FieldDiff) domain.ChangeType {
	if len(diffs) == 0 {
		return domain.ChangeTypeUpdate
	}
	if len(diffs) == 1 && diffs[0].Field == "is_active" {
		if current.IsActive && !prior.IsActive {
			return domain.ChangeTypeActivate
		}
		if !current.IsActive && prior.IsActive {
			return domain.ChangeTypeDeactivate
		}
	}
	return domain.ChangeTypeUpdate
}
