package versioning

import (
	"context"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// RecordCatalogMutation appends one observed live-catalog mutation to the
// audit trail. The change trigger monitor calls this for every event before
// running its trigger decision, so the trail covers every mutation whether or
// not it produced a version.
func (s *Service) RecordCatalogMutation(ctx context.Context, event domain.CatalogEvent) error {
	if !event.ChangeType.Valid() {
		return domain.NewValidationError("change_type", "unknown change type")
	}

	return s.tx.WithTx(ctx, func(tx db.DBTX) error {
		entry := domain.AuditLogEntry{
			Action:     entityAction(event.ChangeType),
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			ChangeType: event.ChangeType,
			OldValues:  event.OldValues,
			NewValues:  event.NewValues,
			Actor:      event.Actor,
			BatchID:    event.BatchID,
		}
		if event.IsBulk {
			entry.Metadata = map[string]any{"is_bulk": true, "bulk_count": event.BulkCount}
		}
		_, err := s.audit.Write(ctx, tx, entry)
		return err
	})
}

func entityAction(changeType domain.ChangeType) domain.AuditAction {
	switch changeType {
	case domain.ChangeTypeCreate:
		return domain.ActionEntityCreate
	case domain.ChangeTypeDelete:
		return domain.ActionEntityDelete
	case domain.ChangeTypeActivate:
		return domain.ActionEntityActivate
	case domain.ChangeTypeDeactivate:
		return domain.ActionEntityDeactivate
	default:
		return domain.ActionEntityUpdate
	}
}
