package versioning

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// DeleteVersion soft-deletes a version and marks its snapshot rows. Active or
// published versions cannot be deleted; the history they anchor must survive.
// Deleting an already-deleted version is a no-op.
func (s *Service) DeleteVersion(ctx context.Context, versionID uuid.UUID, actor string) error {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if version.IsDeleted() {
		return nil
	}
	if !version.CanDelete() {
		return domain.NewStateError("delete_version", "active or published versions cannot be deleted")
	}
	if actor == "" {
		actor = auth.ActorOrSystem(ctx)
	}

	deletedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx db.DBTX) error {
		if err := s.versions.SoftDelete(ctx, tx, versionID, deletedAt); err != nil {
			return err
		}
		if err := s.snapshots.MarkVersionDeleted(ctx, tx, versionID, deletedAt); err != nil {
			return err
		}
		_, err := s.audit.Write(ctx, tx, domain.AuditLogEntry{
			VersionID:  &versionID,
			Action:     domain.ActionVersionDelete,
			EntityID:   versionID,
			ChangeType: domain.ChangeTypeDelete,
			Actor:      actor,
			Metadata: map[string]any{
				"version_number": version.VersionNumber,
				"version_name":   version.Name,
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	// Cached comparisons referencing this version are stale now.
	s.compare.Invalidate(versionID)

	s.logger.Info("version deleted",
		zap.String("version_id", versionID.String()),
		zap.Int64("version_number", version.VersionNumber),
	)
	return nil
}
