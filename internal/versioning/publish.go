package versioning

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/comparison"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// errCASRetry signals a lost race on the active pointer; the publish loop
// retries it with backoff up to the bounded attempt count.
var errCASRetry = errors.New("active version pointer moved")

// PublishVersionRequest describes a publish.
type PublishVersionRequest struct {
	VersionID uuid.UUID
	// ScheduledAt in the future records a schedule instead of activating.
	ScheduledAt *time.Time
	// Force bypasses the already-active / already-scheduled conflict check.
	Force bool
	Actor string
}

// PublishVersion either schedules a future publish or performs an immediate
// atomic activation: deactivate the current active version via CAS, activate
// the target, then reconcile the live catalog to the target's snapshot set,
// all in one transaction sharing one audit batch id.
func (s *Service) PublishVersion(ctx context.Context, req PublishVersionRequest) (domain.Version, error) {
	version, err := s.versions.GetByID(ctx, req.VersionID)
	if err != nil {
		return domain.Version{}, err
	}
	if version.IsDeleted() {
		return domain.Version{}, domain.NewStateError("publish_version", "version is deleted")
	}
	if req.Actor == "" {
		req.Actor = auth.ActorOrSystem(ctx)
	}

	now := s.now()
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		return s.scheduleVersion(ctx, version, *req.ScheduledAt, req)
	}

	if !req.Force && version.IsActive {
		return domain.Version{}, domain.NewConflictError("version is already active")
	}
	if !req.Force && version.IsScheduled() {
		return domain.Version{}, domain.NewConflictError("version is already scheduled for publish")
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		published, err := s.activateVersion(ctx, version, req.Actor)
		if err == nil {
			s.logger.Info("version published",
				zap.String("version_id", published.ID.String()),
				zap.Int64("version_number", published.VersionNumber),
			)
			return published, nil
		}
		if !errors.Is(err, errCASRetry) {
			return domain.Version{}, err
		}
		s.logger.Warn("publish lost active-pointer race, retrying", zap.Int("attempt", attempt))
		s.backoff(attempt)
	}

	return domain.Version{}, domain.NewConcurrencyError("publish_version", s.maxAttempts)
}

func (s *Service) scheduleVersion(ctx context.Context, version domain.Version, at time.Time, req PublishVersionRequest) (domain.Version, error) {
	if !req.Force && version.IsScheduled() {
		return domain.Version{}, domain.NewConflictError("version is already scheduled for publish")
	}
	if !req.Force && version.IsActive {
		return domain.Version{}, domain.NewConflictError("version is already active")
	}

	err := s.tx.WithTx(ctx, func(tx db.DBTX) error {
		if err := s.versions.Schedule(ctx, tx, version.ID, at); err != nil {
			return err
		}
		versionID := version.ID
		_, err := s.audit.Write(ctx, tx, domain.AuditLogEntry{
			VersionID:  &versionID,
			Action:     domain.ActionVersionSchedule,
			EntityID:   version.ID,
			ChangeType: domain.ChangeTypeUpdate,
			Actor:      req.Actor,
			Metadata:   map[string]any{"scheduled_publish_at": at.Format(time.RFC3339)},
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	s.logger.Info("version scheduled",
		zap.String("version_id", version.ID.String()),
		zap.Time("scheduled_publish_at", at),
	)
	return s.versions.GetByID(ctx, version.ID)
}

func (s *Service) activateVersion(ctx context.Context, version domain.Version, actor string) (domain.Version, error) {
	batchID := uuid.New()
	publishedAt := s.now()

	err := s.tx.WithTx(ctx, func(tx db.DBTX) error {
		current, err := s.versions.GetActive(ctx)
		if err != nil {
			return err
		}

		if current != nil && current.ID == version.ID {
			// Target is already live; nothing to do. Scheduled re-checks land
			// here and must not reconcile or audit twice.
			return nil
		}

		if current != nil {
			ok, err := s.versions.Deactivate(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errCASRetry
			}
		}

		ok, err := s.versions.Activate(ctx, tx, version.ID, publishedAt)
		if err != nil {
			return err
		}
		if !ok {
			return errCASRetry
		}

		if err := s.reconcileCatalog(ctx, tx, version.ID, actor, batchID); err != nil {
			return err
		}

		versionID := version.ID
		metadata := map[string]any{"version_number": version.VersionNumber}
		if current != nil {
			metadata["superseded_version_id"] = current.ID.String()
		}
		_, err = s.audit.Write(ctx, tx, domain.AuditLogEntry{
			VersionID:  &versionID,
			Action:     domain.ActionVersionPublish,
			EntityID:   version.ID,
			ChangeType: domain.ChangeTypeActivate,
			Actor:      actor,
			BatchID:    batchID,
			Metadata:   metadata,
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	return s.versions.GetByID(ctx, version.ID)
}

// reconcileCatalog makes the live catalog match the published snapshot set.
// Entities in the snapshot but missing live are recreated; live entities
// absent from the snapshot are deactivated, never hard-deleted. Every
// resulting audit entry carries the publish batch id.
func (s *Service) reconcileCatalog(ctx context.Context, tx db.DBTX, versionID uuid.UUID, actor string, batchID uuid.UUID) error {
	target, err := s.snapshots.LoadVersionSet(ctx, versionID)
	if err != nil {
		return err
	}

	live, err := s.catalog.ListEntities(ctx, tx, true)
	if err != nil {
		return err
	}
	liveByType := map[domain.EntityType]map[uuid.UUID]domain.CatalogEntity{}
	for _, entity := range live {
		bucket, ok := liveByType[entity.EntityType]
		if !ok {
			bucket = map[uuid.UUID]domain.CatalogEntity{}
			liveByType[entity.EntityType] = bucket
		}
		bucket[entity.ID] = entity
	}

	for _, entityType := range domain.EntityTypes {
		bucket := target[entityType]
		ids := make([]uuid.UUID, 0, len(bucket))
		for id := range bucket {
			ids = append(ids, id)
		}
		sortUUIDs(ids)

		for _, id := range ids {
			snap := bucket[id]
			liveEntity, exists := liveByType[entityType][id]
			desired := domain.CatalogEntity{
				ID:         id,
				EntityType: entityType,
				Path:       snap.Path,
				Properties: domain.CopyProperties(snap.Properties),
				IsActive:   snap.IsActive,
			}

			if !exists {
				if _, err := s.catalog.Upsert(ctx, tx, desired); err != nil {
					return err
				}
				if err := s.writeReconcileAudit(ctx, tx, versionID, batchID, actor, snap, domain.ActionEntityCreate, domain.ChangeTypeCreate, nil, snap.Properties); err != nil {
					return err
				}
				continue
			}

			liveSnap := domain.NewSnapshotFromEntity(versionID, liveEntity)
			diffs := comparison.DiffSnapshots(liveSnap, snap)
			if len(diffs) == 0 {
				delete(liveByType[entityType], id)
				continue
			}

			if _, err := s.catalog.Upsert(ctx, tx, desired); err != nil {
				return err
			}
			if err := s.writeReconcileAudit(ctx, tx, versionID, batchID, actor, snap, domain.ActionEntityUpdate, domain.ChangeTypeUpdate, liveEntity.Properties, snap.Properties); err != nil {
				return err
			}
			delete(liveByType[entityType], id)
		}
	}

	// Whatever is left live was not part of the published snapshot.
	for _, entityType := range domain.EntityTypes {
		ids := make([]uuid.UUID, 0, len(liveByType[entityType]))
		for id := range liveByType[entityType] {
			ids = append(ids, id)
		}
		sortUUIDs(ids)

		for _, id := range ids {
			entity := liveByType[entityType][id]
			if !entity.IsActive {
				continue
			}
			if err := s.catalog.DeactivateEntity(ctx, tx, entityType, id); err != nil {
				return err
			}
			stub := domain.EntitySnapshot{EntityType: entityType, OriginalEntityID: id, Path: entity.Path}
			if err := s.writeReconcileAudit(ctx, tx, versionID, batchID, actor, stub, domain.ActionEntityDeactivate, domain.ChangeTypeDeactivate, entity.Properties, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Service) writeReconcileAudit(
	ctx context.Context,
	tx db.DBTX,
	versionID uuid.UUID,
	batchID uuid.UUID,
	actor string,
	snap domain.EntitySnapshot,
	action domain.AuditAction,
	changeType domain.ChangeType,
	oldValues, newValues map[string]any,
) error {
	_, err := s.audit.Write(ctx, tx, domain.AuditLogEntry{
		VersionID:  &versionID,
		Action:     action,
		EntityType: snap.EntityType,
		EntityID:   snap.OriginalEntityID,
		ChangeType: changeType,
		OldValues:  oldValues,
		NewValues:  newValues,
		Actor:      actor,
		BatchID:    batchID,
		Metadata:   map[string]any{"operation": "publish_reconcile"},
	})
	return err
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
