// Package api exposes the versioning engine over HTTP for operators and
// internal tooling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/audit"
	"github.com/pattersonrw/menuvault/internal/auth"
	"github.com/pattersonrw/menuvault/internal/domain"
	"github.com/pattersonrw/menuvault/internal/export"
	"github.com/pattersonrw/menuvault/internal/repository"
	"github.com/pattersonrw/menuvault/internal/trigger"
	"github.com/pattersonrw/menuvault/internal/versioning"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves the versioning HTTP API.
type Handler struct {
	service *versioning.Service
	auditor *audit.Logger
	monitor *trigger.Monitor
	logger  *zap.Logger
}

// NewHandler builds the API handler.
func NewHandler(service *versioning.Service, auditor *audit.Logger, monitor *trigger.Monitor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		auditor: auditor,
		monitor: monitor,
		logger:  logger.With(zap.String("component", "api")),
	}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /versions", h.handleListVersions)
	mux.HandleFunc("POST /versions", h.handleCreateVersion)
	mux.HandleFunc("GET /versions/active", h.handleActiveVersion)
	mux.HandleFunc("GET /versions/compare", h.handleCompare)
	mux.HandleFunc("GET /versions/compare/export", h.handleCompareExport)
	mux.HandleFunc("GET /versions/{id}", h.handleGetVersion)
	mux.HandleFunc("DELETE /versions/{id}", h.handleDeleteVersion)
	mux.HandleFunc("GET /versions/{id}/snapshots", h.handleListSnapshots)
	mux.HandleFunc("POST /versions/{id}/publish", h.handlePublish)
	mux.HandleFunc("POST /versions/{id}/rollback", h.handleRollback)
	mux.HandleFunc("GET /audit", h.handleAuditList)
	mux.HandleFunc("GET /audit/export", h.handleAuditExport)
	mux.HandleFunc("POST /events/catalog-change", h.handleCatalogChange)
	mux.HandleFunc("GET /events/pending", h.handlePendingChanges)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	versions, total, err := h.service.ListVersions(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type createVersionPayload struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Type            string   `json:"type"`
	IncludeInactive bool     `json:"include_inactive"`
	Scope           []string `json:"scope"`
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var payload createVersionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}
	versionType := domain.VersionType(payload.Type)
	if payload.Type == "" {
		versionType = domain.VersionTypeManual
	}
	scope := make([]domain.EntityType, 0, len(payload.Scope))
	for _, entityType := range payload.Scope {
		scope = append(scope, domain.EntityType(entityType))
	}

	version, err := h.service.CreateVersion(requestContext(r), versioning.CreateVersionRequest{
		Name:            payload.Name,
		Description:     payload.Description,
		Type:            versionType,
		IncludeInactive: payload.IncludeInactive,
		Scope:           scope,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) handleActiveVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.GetActiveVersion(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if version == nil {
		h.writeError(w, domain.NewNotFoundError("active version", uuid.Nil))
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	version, err := h.service.GetVersion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.DeleteVersion(requestContext(r), id, ""); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var entityType domain.EntityType
	if raw := r.URL.Query().Get("entity_type"); raw != "" {
		entityType = domain.EntityType(raw)
		if !entityType.Valid() {
			h.writeError(w, domain.NewValidationError("entity_type", "unknown entity type"))
			return
		}
	}
	limit, offset := pagination(r)
	snapshots, err := h.service.ListSnapshots(r.Context(), id, entityType, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snapshots,
		"limit":     limit,
		"offset":    offset,
	})
}

type publishPayload struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
	Force       bool       `json:"force"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var payload publishPayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			h.writeError(w, domain.NewValidationError("body", "invalid json"))
			return
		}
	}

	version, err := h.service.PublishVersion(requestContext(r), versioning.PublishVersionRequest{
		VersionID:   id,
		ScheduledAt: payload.ScheduledAt,
		Force:       payload.Force,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

type rollbackPayload struct {
	Reason       string `json:"reason"`
	SkipBackup   bool   `json:"skip_backup"`
	AllowDeleted bool   `json:"allow_deleted"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var payload rollbackPayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			h.writeError(w, domain.NewValidationError("body", "invalid json"))
			return
		}
	}

	version, err := h.service.RollbackToVersion(requestContext(r), versioning.RollbackRequest{
		TargetVersionID: id,
		Reason:          payload.Reason,
		SkipBackup:      payload.SkipBackup,
		AllowDeleted:    payload.AllowDeleted,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) compareFromQuery(r *http.Request, includeDetails bool) (domain.Comparison, error) {
	query := r.URL.Query()
	fromID, err := uuid.Parse(query.Get("from"))
	if err != nil {
		return domain.Comparison{}, domain.NewValidationError("from", "must be a uuid")
	}
	toID, err := uuid.Parse(query.Get("to"))
	if err != nil {
		return domain.Comparison{}, domain.NewValidationError("to", "must be a uuid")
	}
	return h.service.CompareVersions(r.Context(), fromID, toID, includeDetails)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	includeDetails := r.URL.Query().Get("details") == "true"
	cmp, err := h.compareFromQuery(r, includeDetails)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (h *Handler) handleCompareExport(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.compareFromQuery(r, true)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="comparison.xlsx"`)
	if err := export.WriteComparisonXLSX(w, cmp); err != nil {
		h.logger.Error("comparison export failed", zap.Error(err))
	}
}

func (h *Handler) auditFilterFromQuery(r *http.Request) (repository.AuditFilter, error) {
	query := r.URL.Query()
	filter := repository.AuditFilter{
		Actor:  query.Get("actor"),
		Action: domain.AuditAction(query.Get("action")),
	}
	if raw := query.Get("entity_type"); raw != "" {
		entityType := domain.EntityType(raw)
		if !entityType.Valid() {
			return repository.AuditFilter{}, domain.NewValidationError("entity_type", "unknown entity type")
		}
		filter.EntityType = &entityType
	}
	if raw := query.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return repository.AuditFilter{}, domain.NewValidationError("from", "must be RFC 3339")
		}
		filter.From = &ts
	}
	if raw := query.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return repository.AuditFilter{}, domain.NewValidationError("to", "must be RFC 3339")
		}
		filter.To = &ts
	}
	if raw := query.Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return repository.AuditFilter{}, domain.NewValidationError("batch_id", "must be a uuid")
		}
		filter.BatchID = &id
	}
	if raw := query.Get("version_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return repository.AuditFilter{}, domain.NewValidationError("version_id", "must be a uuid")
		}
		filter.VersionID = &id
	}
	return filter, nil
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.auditFilterFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, offset := pagination(r)
	entries, err := h.auditor.Query(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := h.auditFilterFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, offset := pagination(r)
	entries, err := h.auditor.Query(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.xlsx"`)
	if err := export.WriteAuditXLSX(w, entries); err != nil {
		h.logger.Error("audit export failed", zap.Error(err))
	}
}

type catalogChangePayload struct {
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	ChangeType string         `json:"change_type"`
	OldValues  map[string]any `json:"old_values"`
	NewValues  map[string]any `json:"new_values"`
	IsBulk     bool           `json:"is_bulk"`
	BulkCount  int            `json:"bulk_count"`
	BatchID    uuid.UUID      `json:"batch_id"`
}

// handleCatalogChange feeds one catalog mutation into the change trigger
// monitor. The catalog service posts here after each write it commits.
func (h *Handler) handleCatalogChange(w http.ResponseWriter, r *http.Request) {
	var payload catalogChangePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, domain.NewValidationError("body", "invalid json"))
		return
	}
	entityType := domain.EntityType(payload.EntityType)
	if !entityType.Valid() {
		h.writeError(w, domain.NewValidationError("entity_type", "unknown entity type"))
		return
	}
	changeType := domain.ChangeType(payload.ChangeType)
	if !changeType.Valid() {
		h.writeError(w, domain.NewValidationError("change_type", "unknown change type"))
		return
	}

	ctx := requestContext(r)
	event := domain.CatalogEvent{
		EntityType: entityType,
		EntityID:   payload.EntityID,
		ChangeType: changeType,
		OldValues:  payload.OldValues,
		NewValues:  payload.NewValues,
		Actor:      auth.ActorOrSystem(ctx),
		IsBulk:     payload.IsBulk,
		BulkCount:  payload.BulkCount,
		BatchID:    payload.BatchID,
		OccurredAt: time.Now(),
	}
	if err := h.monitor.OnCatalogChange(ctx, event); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePendingChanges(w http.ResponseWriter, r *http.Request) {
	count, distinct, oldest := h.monitor.Pending()
	payload := map[string]any{
		"pending":  count,
		"distinct": distinct,
	}
	if count > 0 {
		payload["oldest"] = oldest.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

// requestContext attaches the acting user from the X-Actor header so audit
// entries attribute mutations to whoever called the API.
func requestContext(r *http.Request) context.Context {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return auth.ContextWithActor(r.Context(), actor)
	}
	return r.Context()
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("id", "must be a uuid")
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validation *domain.ValidationError
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError
	var state *domain.StateError
	var concurrency *domain.ConcurrencyError

	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &state):
		status = http.StatusConflict
	case errors.As(err, &concurrency):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
