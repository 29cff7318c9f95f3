package versioning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// RollbackRequest describes a rollback to a previously captured version.
type RollbackRequest struct {
	TargetVersionID uuid.UUID
	// Reason is stored in the new version's description and in the rollback
	// audit entry.
	Reason string
	// SkipBackup suppresses the automatic pre-rollback capture of the
	// current live catalog.
	SkipBackup bool
	// AllowDeleted permits rolling back to a soft-deleted version.
	AllowDeleted bool
	Actor        string
}

// RollbackToVersion restores the catalog to the state captured by the target
// version. Rollback never mutates the target or any intervening version: it
// creates a fresh version of type rollback whose snapshots are copied from
// the target, then publishes that new version. When the live catalog has
// drifted since the last capture, an auto-save backup is taken first so
// nothing is lost.
func (s *Service) RollbackToVersion(ctx context.Context, req RollbackRequest) (domain.Version, error) {
	target, err := s.versions.GetByID(ctx, req.TargetVersionID)
	if err != nil {
		return domain.Version{}, err
	}
	if target.IsDeleted() && !req.AllowDeleted {
		return domain.Version{}, domain.NewStateError("rollback", "target version is deleted")
	}
	if target.IsActive {
		return domain.Version{}, domain.NewStateError("rollback", "target version is already active")
	}
	if req.Actor == "" {
		req.Actor = auth.ActorOrSystem(ctx)
	}

	if !req.SkipBackup {
		backup, err := s.CreateVersion(ctx, CreateVersionRequest{
			Name:            fmt.Sprintf("pre-rollback backup of v%d", target.VersionNumber),
			Description:     fmt.Sprintf("automatic capture before rollback to %s", target.Name),
			Type:            domain.VersionTypeAutoSave,
			IncludeInactive: true,
			CreatedBy:       req.Actor,
		})
		if err != nil {
			return domain.Version{}, fmt.Errorf("failed to capture pre-rollback backup: %w", err)
		}
		s.logger.Info("pre-rollback backup captured",
			zap.String("backup_version_id", backup.ID.String()),
		)
	}

	rollback, err := s.createRollbackVersion(ctx, target, req)
	if err != nil {
		return domain.Version{}, err
	}

	return s.PublishVersion(ctx, PublishVersionRequest{
		VersionID: rollback.ID,
		Actor:     req.Actor,
	})
}

// createRollbackVersion materializes a new version carrying copies of the
// target's snapshot rows. The copy happens server-side so large versions do
// not round-trip through the application.
func (s *Service) createRollbackVersion(ctx context.Context, target domain.Version, req RollbackRequest) (domain.Version, error) {
	var created domain.Version

	err := s.tx.WithTx(ctx, func(tx db.DBTX) error {
		number, err := s.versions.NextVersionNumber(ctx, tx)
		if err != nil {
			return err
		}

		// The lineage records where the catalog actually came from, which is
		// the version live at rollback time, not the restored target.
		current, err := s.versions.GetActive(ctx)
		if err != nil {
			return err
		}

		description := req.Reason
		if description == "" {
			description = fmt.Sprintf("restored from version %q", target.Name)
		}

		version := domain.Version{
			ID:            uuid.New(),
			VersionNumber: number,
			Name:          fmt.Sprintf("rollback to v%d", target.VersionNumber),
			Description:   description,
			Type:          domain.VersionTypeRollback,
			CreatedBy:     req.Actor,
		}
		if current != nil {
			currentID := current.ID
			version.ParentVersionID = &currentID
		}

		created, err = s.versions.Create(ctx, tx, version)
		if err != nil {
			return err
		}

		copied, err := s.snapshots.CopyToVersion(ctx, tx, target.ID, created.ID)
		if err != nil {
			return err
		}

		created.EntityCounts = target.EntityCounts
		if err := s.versions.UpdateChangeData(ctx, tx, created.ID, created.EntityCounts, nil); err != nil {
			return err
		}

		metadata := map[string]any{
			"target_version_id":     target.ID.String(),
			"target_version_number": target.VersionNumber,
			"snapshots_copied":      copied,
		}
		if req.Reason != "" {
			metadata["rollback_reason"] = req.Reason
		}
		versionID := created.ID
		_, err = s.audit.Write(ctx, tx, domain.AuditLogEntry{
			VersionID:  &versionID,
			Action:     domain.ActionVersionRollback,
			EntityID:   created.ID,
			ChangeType: domain.ChangeTypeCreate,
			Actor:      req.Actor,
			Metadata:   metadata,
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	s.logger.Info("rollback version created",
		zap.String("version_id", created.ID.String()),
		zap.String("target_version_id", target.ID.String()),
	)
	return created, nil
}
