// Package comparison computes deterministic structural diffs between two
// versions' snapshot sets. Comparisons are pure reads over immutable inputs,
// so results are cached by version pair until one side is soft-deleted.
package comparison

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/domain"
)

// SnapshotSource loads one version's full snapshot set.
type SnapshotSource interface {
	LoadVersionSet(ctx context.Context, versionID uuid.UUID) (domain.SnapshotSet, error)
}

// VersionSource resolves version metadata.
type VersionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Version, error)
}

type cacheKey struct {
	from    uuid.UUID
	to      uuid.UUID
	details bool
}

// Engine is the comparison engine.
type Engine struct {
	snapshots SnapshotSource
	versions  VersionSource
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]*domain.Comparison
}

// NewEngine builds a comparison engine over the given sources.
func NewEngine(snapshots SnapshotSource, versions VersionSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		snapshots: snapshots,
		versions:  versions,
		logger:    logger.With(zap.String("component", "comparison")),
		now:       time.Now,
		cache:     map[cacheKey]*domain.Comparison{},
	}
}

// Compare diffs two versions. Entities present only in "to" are added, only
// in "from" are removed, in both with differing comparable fields are
// modified; unchanged entities are excluded. Ordering is canonical entity
// type order, then ascending original entity id.
func (e *Engine) Compare(ctx context.Context, fromID, toID uuid.UUID, includeDetails bool) (domain.Comparison, error) {
	key := cacheKey{from: fromID, to: toID, details: includeDetails}

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return *cached, nil
	}

	fromVersion, err := e.versions.GetByID(ctx, fromID)
	if err != nil {
		return domain.Comparison{}, err
	}
	toVersion, err := e.versions.GetByID(ctx, toID)
	if err != nil {
		return domain.Comparison{}, err
	}

	fromSet, err := e.snapshots.LoadVersionSet(ctx, fromID)
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("failed to load snapshots for version %s: %w", fromID, err)
	}
	toSet, err := e.snapshots.LoadVersionSet(ctx, toID)
	if err != nil {
		return domain.Comparison{}, fmt.Errorf("failed to load snapshots for version %s: %w", toID, err)
	}

	summary, details := CompareSets(fromSet, toSet, includeDetails)
	result := domain.Comparison{
		FromVersionID: fromID,
		ToVersionID:   toID,
		Summary:       summary,
		Details:       details,
		GeneratedAt:   e.now(),
	}

	// Soft-deleted versions are still comparable, but their results must not
	// linger in the cache past the deletion.
	if !fromVersion.IsDeleted() && !toVersion.IsDeleted() {
		e.mu.Lock()
		e.cache[key] = &result
		e.mu.Unlock()
	}

	e.logger.Debug("computed comparison",
		zap.String("from", fromID.String()),
		zap.String("to", toID.String()),
		zap.Int("added", summary.Totals.Added),
		zap.Int("removed", summary.Totals.Removed),
		zap.Int("modified", summary.Totals.Modified),
	)
	return result, nil
}

// Invalidate drops every cached comparison touching the given version.
// Called by the versioning service when a version is soft-deleted.
func (e *Engine) Invalidate(versionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cache {
		if key.from == versionID || key.to == versionID {
			delete(e.cache, key)
		}
	}
}

// CompareSets diffs two in-memory snapshot sets. It is pure and shared with
// the version-creation path, which uses it to compute changes_summary against
// the parent version.
func CompareSets(from, to domain.SnapshotSet, includeDetails bool) (domain.ChangesSummary, []domain.EntityDiff) {
	summary := domain.NewChangesSummary()
	var details []domain.EntityDiff

	for _, entityType := range domain.EntityTypes {
		fromBucket := from[entityType]
		toBucket := to[entityType]
		counts := domain.ChangeCounts{}

		for _, id := range sortedIDs(fromBucket, toBucket) {
			fromSnap, inFrom := fromBucket[id]
			toSnap, inTo := toBucket[id]

			switch {
			case inTo && !inFrom:
				counts.Added++
				if includeDetails {
					details = append(details, domain.EntityDiff{
						EntityType:       entityType,
						OriginalEntityID: id,
						Path:             toSnap.Path,
						Kind:             domain.DiffAdded,
					})
				}
			case inFrom && !inTo:
				counts.Removed++
				if includeDetails {
					details = append(details, domain.EntityDiff{
						EntityType:       entityType,
						OriginalEntityID: id,
						Path:             fromSnap.Path,
						Kind:             domain.DiffRemoved,
					})
				}
			default:
				diffs := DiffSnapshots(fromSnap, toSnap)
				if len(diffs) == 0 {
					continue
				}
				counts.Modified++
				if includeDetails {
					details = append(details, domain.EntityDiff{
						EntityType:       entityType,
						OriginalEntityID: id,
						Path:             toSnap.Path,
						Kind:             domain.DiffModified,
						Fields:           diffs,
					})
				}
			}
		}

		if counts.Total() > 0 {
			summary.Add(entityType, counts)
		}
	}

	return summary, details
}

func sortedIDs(buckets ...map[uuid.UUID]domain.EntitySnapshot) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	ids := []uuid.UUID{}
	for _, bucket := range buckets {
		for id := range bucket {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
