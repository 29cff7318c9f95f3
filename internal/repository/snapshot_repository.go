package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

// snapshotCopyBatchSize bounds how many rows go into one COPY stream so a
// large catalog does not hold the transaction's buffers for too long.
const snapshotCopyBatchSize = 500

var snapshotCopyColumns = []string{
	"id", "version_id", "entity_type", "original_entity_id", "path",
	"properties", "is_active", "change_type", "changed_fields", "created_at",
}

const snapshotColumns = `id, version_id, entity_type, original_entity_id, path,
	properties, is_active, change_type, changed_fields, created_at`

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository wires a snapshot repository backed by pgxpool.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

// BulkInsert writes snapshot rows through the COPY protocol inside the
// caller's transaction. There is no update path: snapshot content is
// immutable once the owning version commits.
func (r *snapshotRepository) BulkInsert(ctx context.Context, tx db.DBTX, snapshots []domain.EntitySnapshot) (int64, error) {
	var inserted int64
	for start := 0; start < len(snapshots); start += snapshotCopyBatchSize {
		end := start + snapshotCopyBatchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}

		rows := make([][]any, 0, end-start)
		for _, snap := range snapshots[start:end] {
			propertiesJSON, err := json.Marshal(snap.Properties)
			if err != nil {
				return inserted, fmt.Errorf("failed to marshal snapshot properties for %s: %w", snap.OriginalEntityID, err)
			}
			changedJSON, err := json.Marshal(snap.ChangedFields)
			if err != nil {
				return inserted, fmt.Errorf("failed to marshal changed fields for %s: %w", snap.OriginalEntityID, err)
			}
			createdAt := snap.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			rows = append(rows, []any{
				snap.ID,
				snap.VersionID,
				string(snap.EntityType),
				snap.OriginalEntityID,
				snap.Path,
				propertiesJSON,
				snap.IsActive,
				string(snap.ChangeType),
				changedJSON,
				createdAt,
			})
		}

		count, err := tx.CopyFrom(ctx, pgx.Identifier{"catalog_snapshots"}, snapshotCopyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return inserted, domain.NewStorageError("bulk insert snapshots", err)
		}
		inserted += count
	}
	return inserted, nil
}

func (r *snapshotRepository) ListByVersion(ctx context.Context, versionID uuid.UUID, entityType domain.EntityType, limit, offset int) ([]domain.EntitySnapshot, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+snapshotColumns+` FROM catalog_snapshots
		 WHERE version_id = $1 AND entity_type = $2
		 ORDER BY original_entity_id ASC
		 LIMIT $3 OFFSET $4`,
		versionID,
		string(entityType),
		limit,
		offset,
	)
	if err != nil {
		return nil, domain.NewStorageError("list snapshots", err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func (r *snapshotRepository) LoadVersionSet(ctx context.Context, versionID uuid.UUID) (domain.SnapshotSet, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+snapshotColumns+` FROM catalog_snapshots
		 WHERE version_id = $1
		 ORDER BY entity_type, original_entity_id ASC`,
		versionID,
	)
	if err != nil {
		return nil, domain.NewStorageError("load version snapshot set", err)
	}
	defer rows.Close()

	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, err
	}

	set := domain.NewSnapshotSet()
	for _, snap := range snapshots {
		set.Insert(snap)
	}
	return set, nil
}

// CopyToVersion duplicates one version's snapshot rows under a new version
// id. This is the rollback path: the target's content is never moved or
// mutated, only copied forward.
func (r *snapshotRepository) CopyToVersion(ctx context.Context, tx db.DBTX, fromVersionID, toVersionID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(
		ctx,
		`INSERT INTO catalog_snapshots (
			id, version_id, entity_type, original_entity_id, path,
			properties, is_active, change_type, changed_fields, created_at
		)
		SELECT gen_random_uuid(), $2, entity_type, original_entity_id, path,
			properties, is_active, change_type, changed_fields, now()
		FROM catalog_snapshots
		WHERE version_id = $1`,
		fromVersionID,
		toVersionID,
	)
	if err != nil {
		return 0, domain.NewStorageError("copy snapshots to version", err)
	}
	return tag.RowsAffected(), nil
}

// MarkVersionDeleted stamps the rows of a soft-deleted version. The rows
// themselves are retained; audit integrity requires history to stay
// queryable.
func (r *snapshotRepository) MarkVersionDeleted(ctx context.Context, tx db.DBTX, versionID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(
		ctx,
		`UPDATE catalog_snapshots SET version_deleted_at = $2
		 WHERE version_id = $1 AND version_deleted_at IS NULL`,
		versionID,
		at,
	)
	if err != nil {
		return domain.NewStorageError("mark version snapshots deleted", err)
	}
	return nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.EntitySnapshot, error) {
	snapshots := []domain.EntitySnapshot{}
	for rows.Next() {
		var (
			snap           domain.EntitySnapshot
			entityType     string
			changeType     string
			propertiesJSON []byte
			changedJSON    []byte
			path           pgtype.Text
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.VersionID,
			&entityType,
			&snap.OriginalEntityID,
			&path,
			&propertiesJSON,
			&snap.IsActive,
			&changeType,
			&changedJSON,
			&snap.CreatedAt,
		); err != nil {
			return nil, domain.NewStorageError("scan snapshot", err)
		}

		snap.EntityType = domain.EntityType(entityType)
		snap.ChangeType = domain.ChangeType(changeType)
		if path.Valid {
			snap.Path = path.String
		}
		if len(propertiesJSON) > 0 {
			if err := json.Unmarshal(propertiesJSON, &snap.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot properties for %s: %w", snap.OriginalEntityID, err)
			}
		}
		if len(changedJSON) > 0 {
			if err := json.Unmarshal(changedJSON, &snap.ChangedFields); err != nil {
				return nil, fmt.Errorf("failed to decode changed fields for %s: %w", snap.OriginalEntityID, err)
			}
		}

		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate snapshots", err)
	}
	return snapshots, nil
}
