// Package audit owns the append-only mutation trail. Writes happen inside
// the same transaction as the mutation they describe; a failed audit write
// aborts the whole mutation rather than degrading to a warning.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
	"github.com/pattersonrw/menuvault/internal/repository"
)

// Logger writes and queries audit entries.
type Logger struct {
	repo   repository.AuditLogRepository
	logger *zap.Logger
}

// NewLogger builds the audit logger.
func NewLogger(repo repository.AuditLogRepository, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, logger: logger.With(zap.String("component", "audit"))}
}

// NewBatchID returns a fresh correlation id for one logical operation.
func NewBatchID() uuid.UUID {
	return uuid.New()
}

// Write validates and appends one entry inside the caller's transaction.
// Missing identity fields are filled in: id, batch id, and the actor from
// the context when none was set.
func (l *Logger) Write(ctx context.Context, tx db.DBTX, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if entry.Action == "" {
		return domain.AuditLogEntry{}, domain.NewValidationError("action", "must not be empty")
	}
	if entry.EntityType != "" && !entry.EntityType.Valid() {
		return domain.AuditLogEntry{}, domain.NewValidationError("entity_type", "unknown entity type")
	}
	if entry.ChangeType != "" && !entry.ChangeType.Valid() {
		return domain.AuditLogEntry{}, domain.NewValidationError("change_type", "unknown change type")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.BatchID == uuid.Nil {
		entry.BatchID = NewBatchID()
	}
	if entry.Actor == "" {
		entry.Actor = auth.ActorOrSystem(ctx)
	}

	written, err := l.repo.Insert(ctx, tx, entry)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	l.logger.Debug("audit entry written",
		zap.String("action", string(written.Action)),
		zap.String("entity_type", string(written.EntityType)),
		zap.String("batch_id", written.BatchID.String()),
	)
	return written, nil
}

// Query returns entries matching the filter, newest first.
func (l *Logger) Query(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]domain.AuditLogEntry, error) {
	return l.repo.List(ctx, filter, limit, offset)
}

// Iterate returns a lazy, restartable sequence over matching entries.
func (l *Logger) Iterate(filter repository.AuditFilter, pageSize int) *repository.AuditIterator {
	return repository.NewAuditIterator(l.repo, filter, pageSize)
}
