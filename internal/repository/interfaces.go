package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// TxRunner executes a function inside one database transaction.
// db.Connection implements it; tests substitute an in-memory runner.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx db.DBTX) error) error
}

// VersionRepository owns the catalog_versions table. Lifecycle fields
// (is_active, is_published, scheduled_publish_at, deleted_at) are only ever
// written through the versioning service, which is the sole caller of the
// mutating methods here.
type VersionRepository interface {
	Create(ctx context.Context, tx db.DBTX, version domain.Version) (domain.Version, error)
	NextVersionNumber(ctx context.Context, tx db.DBTX) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Version, error)
	GetActive(ctx context.Context) (*domain.Version, error)
	List(ctx context.Context, limit, offset int) ([]domain.Version, int, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]domain.Version, error)
	CountActive(ctx context.Context) (int64, error)

	// Deactivate and Activate are the two halves of the publish CAS. Both
	// report whether a row actually changed; zero rows means the caller lost
	// the race and should retry.
	Deactivate(ctx context.Context, tx db.DBTX, id uuid.UUID) (bool, error)
	Activate(ctx context.Context, tx db.DBTX, id uuid.UUID, publishedAt time.Time) (bool, error)

	Schedule(ctx context.Context, tx db.DBTX, id uuid.UUID, at time.Time) error
	UpdateChangeData(ctx context.Context, tx db.DBTX, id uuid.UUID, counts map[domain.EntityType]int, summary *domain.ChangesSummary) error
	SoftDelete(ctx context.Context, tx db.DBTX, id uuid.UUID, at time.Time) error
}

// SnapshotRepository owns the catalog_snapshots table. Rows are insert-only;
// the single marker write exists solely for version soft-deletion.
type SnapshotRepository interface {
	BulkInsert(ctx context.Context, tx db.DBTX, snapshots []domain.EntitySnapshot) (int64, error)
	ListByVersion(ctx context.Context, versionID uuid.UUID, entityType domain.EntityType, limit, offset int) ([]domain.EntitySnapshot, error)
	LoadVersionSet(ctx context.Context, versionID uuid.UUID) (domain.SnapshotSet, error)
	CopyToVersion(ctx context.Context, tx db.DBTX, fromVersionID, toVersionID uuid.UUID) (int64, error)
	MarkVersionDeleted(ctx context.Context, tx db.DBTX, versionID uuid.UUID, at time.Time) error
}

// AuditLogRepository owns the append-only audit_log table.
type AuditLogRepository interface {
	Insert(ctx context.Context, tx db.DBTX, entry domain.AuditLogEntry) (domain.AuditLogEntry, error)
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]domain.AuditLogEntry, error)
}

// AuditFilter narrows audit queries. Nil fields match everything.
type AuditFilter struct {
	From       *time.Time
	To         *time.Time
	EntityType *domain.EntityType
	Actor      string
	Action     domain.AuditAction
	BatchID    *uuid.UUID
	VersionID  *uuid.UUID
}

// CatalogRepository is the engine's adapter onto the live catalog tables.
// Snapshot capture reads through it and publish reconciliation writes through
// it; the live catalog's own business rules stay outside the engine.
type CatalogRepository interface {
	ListEntities(ctx context.Context, tx db.DBTX, includeInactive bool) ([]domain.CatalogEntity, error)
	Upsert(ctx context.Context, tx db.DBTX, entity domain.CatalogEntity) (created bool, err error)
	DeactivateEntity(ctx context.Context, tx db.DBTX, entityType domain.EntityType, id uuid.UUID) error
}
