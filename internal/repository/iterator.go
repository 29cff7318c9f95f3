package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pattersonrw/menuvault/internal/domain"
)

// SnapshotIterator walks one version's snapshot rows for one entity type a
// page at a time. It fetches nothing until Next is called, never reads ahead
// of the current page, and Reset restarts it from the beginning.
type SnapshotIterator struct {
	repo       SnapshotRepository
	versionID  uuid.UUID
	entityType domain.EntityType
	pageSize   int

	page    []domain.EntitySnapshot
	pagePos int
	offset  int
	done    bool
}

// NewSnapshotIterator builds an iterator over one (version, entity type)
// snapshot sequence.
func NewSnapshotIterator(repo SnapshotRepository, versionID uuid.UUID, entityType domain.EntityType, pageSize int) *SnapshotIterator {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &SnapshotIterator{
		repo:       repo,
		versionID:  versionID,
		entityType: entityType,
		pageSize:   pageSize,
	}
}

// Next returns the next snapshot. The second return value is false once the
// sequence is exhausted.
func (it *SnapshotIterator) Next(ctx context.Context) (domain.EntitySnapshot, bool, error) {
	if it.pagePos >= len(it.page) {
		if it.done {
			return domain.EntitySnapshot{}, false, nil
		}
		page, err := it.repo.ListByVersion(ctx, it.versionID, it.entityType, it.pageSize, it.offset)
		if err != nil {
			return domain.EntitySnapshot{}, false, err
		}
		it.page = page
		it.pagePos = 0
		it.offset += len(page)
		if len(page) < it.pageSize {
			it.done = true
		}
		if len(page) == 0 {
			return domain.EntitySnapshot{}, false, nil
		}
	}

	snap := it.page[it.pagePos]
	it.pagePos++
	return snap, true, nil
}

// Reset restarts the iterator from the first row.
func (it *SnapshotIterator) Reset() {
	it.page = nil
	it.pagePos = 0
	it.offset = 0
	it.done = false
}

// AuditIterator walks audit entries matching a filter in reverse
// chronological order, one page at a time. Same contract as
// SnapshotIterator: lazy, no lookahead, restartable.
type AuditIterator struct {
	repo     AuditLogRepository
	filter   AuditFilter
	pageSize int

	page    []domain.AuditLogEntry
	pagePos int
	offset  int
	done    bool
}

// NewAuditIterator builds an iterator over filtered audit entries.
func NewAuditIterator(repo AuditLogRepository, filter AuditFilter, pageSize int) *AuditIterator {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &AuditIterator{repo: repo, filter: filter, pageSize: pageSize}
}

// Next returns the next audit entry; the second return value is false once
// the sequence is exhausted.
func (it *AuditIterator) Next(ctx context.Context) (domain.AuditLogEntry, bool, error) {
	if it.pagePos >= len(it.page) {
		if it.done {
			return domain.AuditLogEntry{}, false, nil
		}
		page, err := it.repo.List(ctx, it.filter, it.pageSize, it.offset)
		if err != nil {
			return domain.AuditLogEntry{}, false, err
		}
		it.page = page
		it.pagePos = 0
		it.offset += len(page)
		if len(page) < it.pageSize {
			it.done = true
		}
		if len(page) == 0 {
			return domain.AuditLogEntry{}, false, nil
		}
	}

	entry := it.page[it.pagePos]
	it.pagePos++
	return entry, true, nil
}

// Reset restarts the iterator from the first entry.
func (it *AuditIterator) Reset() {
	it.page = nil
	it.pagePos = 0
	it.offset = 0
	it.done = false
}
