package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

type catalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository wires the live catalog adapter backed by pgxpool.
func NewCatalogRepository(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{pool: pool}
}

func (r *catalogRepository) ListEntities(ctx context.Context, tx db.DBTX, includeInactive bool) ([]domain.CatalogEntity, error) {
	query := `SELECT id, entity_type, path, properties, is_active, created_at, updated_at
		 FROM catalog_entities`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY entity_type, id ASC`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, domain.NewStorageError("list catalog entities", err)
	}
	defer rows.Close()

	entities := []domain.CatalogEntity{}
	for rows.Next() {
		var (
			entity         domain.CatalogEntity
			entityType     string
			propertiesJSON []byte
		)
		if err := rows.Scan(
			&entity.ID,
			&entityType,
			&entity.Path,
			&propertiesJSON,
			&entity.IsActive,
			&entity.CreatedAt,
			&entity.UpdatedAt,
		); err != nil {
			return nil, domain.NewStorageError("scan catalog entity", err)
		}
		entity.EntityType = domain.EntityType(entityType)
		if len(propertiesJSON) > 0 {
			if err := json.Unmarshal(propertiesJSON, &entity.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode properties for entity %s: %w", entity.ID, err)
			}
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate catalog entities", err)
	}

	return entities, nil
}

// Upsert writes a snapshot's state back onto the live catalog during publish
// reconciliation. It reports whether the entity had to be recreated.
func (r *catalogRepository) Upsert(ctx context.Context, tx db.DBTX, entity domain.CatalogEntity) (bool, error) {
	propertiesJSON, err := json.Marshal(entity.Properties)
	if err != nil {
		return false, fmt.Errorf("failed to marshal properties for entity %s: %w", entity.ID, err)
	}

	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_entities
		 SET path = $2, properties = $3, is_active = $4, updated_at = now()
		 WHERE id = $1`,
		entity.ID,
		entity.Path,
		propertiesJSON,
		entity.IsActive,
	)
	if err != nil {
		return false, domain.NewStorageError("update catalog entity", err)
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	_, err = tx.Exec(
		ctx,
		`INSERT INTO catalog_entities (id, entity_type, path, properties, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		entity.ID,
		string(entity.EntityType),
		entity.Path,
		propertiesJSON,
		entity.IsActive,
	)
	if err != nil {
		return false, domain.NewStorageError("recreate catalog entity", err)
	}
	return true, nil
}

// DeactivateEntity flags a live entity inactive. Reconciliation never hard
// deletes: entities absent from the published snapshot are switched off.
func (r *catalogRepository) DeactivateEntity(ctx context.Context, tx db.DBTX, entityType domain.EntityType, id uuid.UUID) error {
	tag, err := tx.Exec(
		ctx,
		`UPDATE catalog_entities SET is_active = false, updated_at = now()
		 WHERE id = $1 AND entity_type = $2`,
		id,
		string(entityType),
	)
	if err != nil {
		return domain.NewStorageError("deactivate catalog entity", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("catalog entity", id)
	}
	return nil
}
