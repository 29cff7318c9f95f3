package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
)

const auditColumns = `id, version_id, action, entity_type, entity_id, change_type,
	old_values, new_values, actor, batch_id, metadata, created_at`

type auditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository wires an audit log repository backed by pgxpool.
func NewAuditLogRepository(pool *pgxpool.Pool) AuditLogRepository {
	return &auditLogRepository{pool: pool}
}

// Insert appends one audit entry inside the caller's transaction. An error
// here must abort the enclosing mutation: durability of the trail is part of
// the mutation's contract.
func (r *auditLogRepository) Insert(ctx context.Context, tx db.DBTX, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("failed to marshal old values: %w", err)
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("failed to marshal new values: %w", err)
	}
	metadataJSON, err := marshalValues(entry.Metadata)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	row := tx.QueryRow(
		ctx,
		`INSERT INTO audit_log (
			id, version_id, action, entity_type, entity_id, change_type,
			old_values, new_values, actor, batch_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at`,
		entry.ID,
		entry.VersionID,
		string(entry.Action),
		string(entry.EntityType),
		entry.EntityID,
		string(entry.ChangeType),
		oldJSON,
		newJSON,
		entry.Actor,
		entry.BatchID,
		metadataJSON,
	)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return domain.AuditLogEntry{}, domain.NewStorageError("insert audit entry", err)
	}
	return entry, nil
}

func (r *auditLogRepository) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	clauses := []string{}
	args := []any{}

	appendClause := func(condition string, value any) {
		args = append(args, value)
		clauses = append(clauses, condition+" $"+strconv.Itoa(len(args)))
	}

	if filter.From != nil {
		appendClause("created_at >=", *filter.From)
	}
	if filter.To != nil {
		appendClause("created_at <=", *filter.To)
	}
	if filter.EntityType != nil {
		appendClause("entity_type =", string(*filter.EntityType))
	}
	if filter.Actor != "" {
		appendClause("actor =", filter.Actor)
	}
	if filter.Action != "" {
		appendClause("action =", string(filter.Action))
	}
	if filter.BatchID != nil {
		appendClause("batch_id =", *filter.BatchID)
	}
	if filter.VersionID != nil {
		appendClause("version_id =", *filter.VersionID)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("query audit log", err)
	}
	defer rows.Close()

	entries := []domain.AuditLogEntry{}
	for rows.Next() {
		var (
			entry        domain.AuditLogEntry
			versionID    pgtype.UUID
			action       string
			entityType   string
			changeType   string
			oldJSON      []byte
			newJSON      []byte
			metadataJSON []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&versionID,
			&action,
			&entityType,
			&entry.EntityID,
			&changeType,
			&oldJSON,
			&newJSON,
			&entry.Actor,
			&entry.BatchID,
			&metadataJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, domain.NewStorageError("scan audit entry", err)
		}

		entry.Action = domain.AuditAction(action)
		entry.EntityType = domain.EntityType(entityType)
		entry.ChangeType = domain.ChangeType(changeType)
		if versionID.Valid {
			id := uuid.UUID(versionID.Bytes)
			entry.VersionID = &id
		}
		if entry.OldValues, err = unmarshalValues(oldJSON); err != nil {
			return nil, fmt.Errorf("failed to decode old values for audit entry %s: %w", entry.ID, err)
		}
		if entry.NewValues, err = unmarshalValues(newJSON); err != nil {
			return nil, fmt.Errorf("failed to decode new values for audit entry %s: %w", entry.ID, err)
		}
		if entry.Metadata, err = unmarshalValues(metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for audit entry %s: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate audit entries", err)
	}

	return entries, nil
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

func unmarshalValues(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	values := map[string]any{}
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, err
	}
	return values, nil
}
