package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

const uniqueViolationCode = "23505"

const versionColumns = `id, version_number, name, description, version_type,
	is_active, is_published, published_at, scheduled_publish_at, created_by,
	parent_version_id, entity_counts, changes_summary, created_at, deleted_at`

type versionRepository struct {
	pool *pgxpool.Pool
}

// NewVersionRepository wires a version repository backed by pgxpool.
func NewVersionRepository(pool *pgxpool.Pool) VersionRepository {
	return &versionRepository{pool: pool}
}

func (r *versionRepository) Create(ctx context.Context, tx db.DBTX, version domain.Version) (domain.Version, error) {
	countsJSON, summaryJSON, err := marshalChangeData(version.EntityCounts, version.ChangesSummary)
	if err != nil {
		return domain.Version{}, err
	}

	row := tx.QueryRow(
		ctx,
		`INSERT INTO catalog_versions (
			id, version_number, name, description, version_type, is_active,
			is_published, scheduled_publish_at, created_by, parent_version_id,
			entity_counts, changes_summary, created_at
		) VALUES ($1, $2, $3, $4, $5, false, false, $6, $7, $8, $9, $10, now())
		RETURNING `+versionColumns,
		version.ID,
		version.VersionNumber,
		version.Name,
		version.Description,
		string(version.Type),
		version.ScheduledPublishAt,
		version.CreatedBy,
		version.ParentVersionID,
		countsJSON,
		summaryJSON,
	)

	created, err := scanVersion(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.Version{}, domain.NewConflictError(
				fmt.Sprintf("version number %d already allocated", version.VersionNumber))
		}
		return domain.Version{}, domain.NewStorageError("create version", err)
	}
	return created, nil
}

func (r *versionRepository) NextVersionNumber(ctx context.Context, tx db.DBTX) (int64, error) {
	var next int64
	err := tx.QueryRow(
		ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM catalog_versions`,
	).Scan(&next)
	if err != nil {
		return 0, domain.NewStorageError("allocate version number", err)
	}
	return next, nil
}

func (r *versionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Version, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM catalog_versions WHERE id = $1`,
		id,
	)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Version{}, domain.NewNotFoundError("version", id)
		}
		return domain.Version{}, domain.NewStorageError("get version", err)
	}
	return version, nil
}

func (r *versionRepository) GetActive(ctx context.Context) (*domain.Version, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM catalog_versions
		 WHERE is_active AND deleted_at IS NULL`,
	)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewStorageError("get active version", err)
	}
	return &version, nil
}

func (r *versionRepository) List(ctx context.Context, limit, offset int) ([]domain.Version, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+`, COUNT(*) OVER() AS total_count
		 FROM catalog_versions
		 WHERE deleted_at IS NULL
		 ORDER BY version_number DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, domain.NewStorageError("list versions", err)
	}
	defer rows.Close()

	versions := []domain.Version{}
	totalCount := 0
	for rows.Next() {
		version, total, err := scanVersionWithTotal(rows)
		if err != nil {
			return nil, 0, domain.NewStorageError("scan version", err)
		}
		versions = append(versions, version)
		totalCount = total
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.NewStorageError("iterate versions", err)
	}

	return versions, totalCount, nil
}

func (r *versionRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]domain.Version, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+` FROM catalog_versions
		 WHERE scheduled_publish_at IS NOT NULL
		   AND scheduled_publish_at <= $1
		   AND NOT is_published
		   AND deleted_at IS NULL
		 ORDER BY scheduled_publish_at ASC`,
		now,
	)
	if err != nil {
		return nil, domain.NewStorageError("list due scheduled versions", err)
	}
	defer rows.Close()

	versions := []domain.Version{}
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan scheduled version", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate scheduled versions", err)
	}

	return versions, nil
}

func (r *versionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM catalog_versions WHERE is_active AND deleted_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("count active versions", err)
	}
	return count, nil
}

// Deactivate clears the active flag only when the row still holds it; a
// false return means another publish got there first. is_published and
// published_at are deliberately untouched so superseded versions keep their
// historical publish record.
func (r *versionRepository) Deactivate(ctx context.Context, tx db.DBTX, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_versions SET is_active = false
		 WHERE id = $1 AND is_active AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return false, domain.NewStorageError("deactivate version", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *versionRepository) Activate(ctx context.Context, tx db.DBTX, id uuid.UUID, publishedAt time.Time) (bool, error) {
	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_versions
		 SET is_active = true, is_published = true, published_at = $2, scheduled_publish_at = NULL
		 WHERE id = $1 AND NOT is_active AND deleted_at IS NULL`,
		id,
		publishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// The partial unique index caught a second active row.
			return false, nil
		}
		return false, domain.NewStorageError("activate version", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *versionRepository) Schedule(ctx context.Context, tx db.DBTX, id uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_versions
		 SET scheduled_publish_at = $2, is_published = false
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
		at,
	)
	if err != nil {
		return domain.NewStorageError("schedule version", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("version", id)
	}
	return nil
}

func (r *versionRepository) UpdateChangeData(ctx context.Context, tx db.DBTX, id uuid.UUID, counts map[domain.EntityType]int, summary *domain.ChangesSummary) error {
	countsJSON, summaryJSON, err := marshalChangeData(counts, summary)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_versions SET entity_counts = $2, changes_summary = $3 WHERE id = $1`,
		id,
		countsJSON,
		summaryJSON,
	)
	if err != nil {
		return domain.NewStorageError("update version change data", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("version", id)
	}
	return nil
}

func (r *versionRepository) SoftDelete(ctx context.Context, tx db.DBTX, id uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_versions SET deleted_at = $2
		 WHERE id = $1 AND NOT is_active AND NOT is_published AND deleted_at IS NULL`,
		id,
		at,
	)
	if err != nil {
		return domain.NewStorageError("soft delete version", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewStateError("delete_version", "version is active, published or already deleted")
	}
	return nil
}

func marshalChangeData(counts map[domain.EntityType]int, summary *domain.ChangesSummary) ([]byte, []byte, error) {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal entity counts: %w", err)
	}
	var summaryJSON []byte
	if summary != nil {
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal changes summary: %w", err)
		}
	}
	return countsJSON, summaryJSON, nil
}

func scanVersion(row pgx.Row) (domain.Version, error) {
	var (
		version     domain.Version
		versionType string
		publishedAt pgtype.Timestamptz
		scheduledAt pgtype.Timestamptz
		parentID    pgtype.UUID
		countsJSON  []byte
		summaryJSON []byte
		deletedAt   pgtype.Timestamptz
	)

	err := row.Scan(
		&version.ID,
		&version.VersionNumber,
		&version.Name,
		&version.Description,
		&versionType,
		&version.IsActive,
		&version.IsPublished,
		&publishedAt,
		&scheduledAt,
		&version.CreatedBy,
		&parentID,
		&countsJSON,
		&summaryJSON,
		&version.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return domain.Version{}, err
	}

	return buildVersion(version, versionType, publishedAt, scheduledAt, parentID, countsJSON, summaryJSON, deletedAt)
}

func scanVersionWithTotal(rows pgx.Rows) (domain.Version, int, error) {
	var (
		version     domain.Version
		versionType string
		publishedAt pgtype.Timestamptz
		scheduledAt pgtype.Timestamptz
		parentID    pgtype.UUID
		countsJSON  []byte
		summaryJSON []byte
		deletedAt   pgtype.Timestamptz
		totalCount  int64
	)

	err := rows.Scan(
		&version.ID,
		&version.VersionNumber,
		&version.Name,
		&version.Description,
		&versionType,
		&version.IsActive,
		&version.IsPublished,
		&publishedAt,
		&scheduledAt,
		&version.CreatedBy,
		&parentID,
		&countsJSON,
		&summaryJSON,
		&version.CreatedAt,
		&deletedAt,
		&totalCount,
	)
	if err != nil {
		return domain.Version{}, 0, err
	}

	built, err := buildVersion(version, versionType, publishedAt, scheduledAt, parentID, countsJSON, summaryJSON, deletedAt)
	return built, int(totalCount), err
}

func buildVersion(
	version domain.Version,
	versionType string,
	publishedAt, scheduledAt pgtype.Timestamptz,
	parentID pgtype.UUID,
	countsJSON, summaryJSON []byte,
	deletedAt pgtype.Timestamptz,
) (domain.Version, error) {
	version.Type = domain.VersionType(versionType)
	if publishedAt.Valid {
		t := publishedAt.Time
		version.PublishedAt = &t
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		version.ScheduledPublishAt = &t
	}
	if parentID.Valid {
		id := uuid.UUID(parentID.Bytes)
		version.ParentVersionID = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		version.DeletedAt = &t
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &version.EntityCounts); err != nil {
			return domain.Version{}, fmt.Errorf("failed to decode entity counts for version %s: %w", version.ID, err)
		}
	}
	if len(summaryJSON) > 0 {
		summary := domain.ChangesSummary{}
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return domain.Version{}, fmt.Errorf("failed to decode changes summary for version %s: %w", version.ID, err)
		}
		version.ChangesSummary = &summary
	}
	return version, nil
}
