// Package trigger watches live catalog mutation events and decides when the
// catalog has drifted enough to deserve an automatic version.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/domain"
)

// VersionCreator is the slice of the versioning service the monitor needs.
type VersionCreator interface {
	CreateAutoSaveVersion(ctx context.Context, reason string) (domain.Version, error)
}

// AuditRecorder persists each observed mutation to the audit trail. A nil
// recorder disables recording; the trigger decision still runs.
type AuditRecorder interface {
	RecordCatalogMutation(ctx context.Context, event domain.CatalogEvent) error
}

// Config tunes the trigger thresholds.
type Config struct {
	// Threshold is the buffered change count that forces a version.
	Threshold int
	// BulkLimit is the bulk_count above which a bulk event triggers
	// immediately.
	BulkLimit int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{Threshold: 10, BulkLimit: 5}
}

// maxTrackedBulks bounds the set of bulk batch ids remembered for
// deduplication. Overflow resets the set; a stale re-trigger after that is
// harmless, it just captures an extra version.
const maxTrackedBulks = 128

// changeBuffer accumulates pending mutations between auto-versions. It is
// owned by exactly one Monitor and only touched under the monitor's mutex.
type changeBuffer struct {
	count   int
	touched map[string]struct{}
	oldest  time.Time
}

func newChangeBuffer() *changeBuffer {
	return &changeBuffer{touched: map[string]struct{}{}}
}

func (b *changeBuffer) add(event domain.CatalogEvent) {
	if b.count == 0 {
		at := event.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}
		b.oldest = at
	}
	b.count++
	b.touched[event.Key()] = struct{}{}
}

func (b *changeBuffer) clear() {
	b.count = 0
	b.touched = map[string]struct{}{}
	b.oldest = time.Time{}
}

// Monitor is the change trigger monitor. It is constructed once per process
// and injected wherever the live catalog reports mutations; there is no
// ambient global buffer.
type Monitor struct {
	cfg      Config
	creator  VersionCreator
	recorder AuditRecorder
	logger   *zap.Logger

	mu        sync.Mutex
	buf       *changeBuffer
	seenBulks map[uuid.UUID]struct{}
}

// NewMonitor builds a monitor with its own empty buffer.
func NewMonitor(cfg Config, creator VersionCreator, recorder AuditRecorder, logger *zap.Logger) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.BulkLimit <= 0 {
		cfg.BulkLimit = DefaultConfig().BulkLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:       cfg,
		creator:   creator,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "trigger")),
		buf:       newChangeBuffer(),
		seenBulks: map[uuid.UUID]struct{}{},
	}
}

// OnCatalogChange is the observer the live catalog's persistence layer calls
// synchronously after each committed mutation. Each event is first written to
// the audit trail, then fed into the trigger decision. The whole
// check-increment-trigger-clear sequence runs as one critical section so
// concurrent events can neither double-trigger nor lose counts. A bulk call
// emits one event per touched entity, all under one batch id; the batch
// triggers at most one auto version.
func (m *Monitor) OnCatalogChange(ctx context.Context, event domain.CatalogEvent) error {
	if !event.EntityType.Valid() {
		return domain.NewValidationError("entity_type", "unknown entity type")
	}

	if m.recorder != nil {
		if err := m.recorder.RecordCatalogMutation(ctx, event); err != nil {
			return fmt.Errorf("failed to record catalog mutation: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.IsBulk && event.BatchID != uuid.Nil {
		if _, triggered := m.seenBulks[event.BatchID]; triggered {
			// This batch already produced its auto version; the remaining
			// per-entity events of the same call are part of it.
			return nil
		}
	}

	reason, immediate := m.classify(event)
	if !immediate {
		m.buf.add(event)
		if m.buf.count < m.cfg.Threshold {
			return nil
		}
		reason = fmt.Sprintf("auto: %d accumulated changes", m.buf.count)
	}

	version, err := m.creator.CreateAutoSaveVersion(ctx, reason)
	if err != nil {
		// Leave the buffer intact so the pending changes still count toward
		// the next attempt.
		m.logger.Error("auto-version creation failed", zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("failed to create auto version: %w", err)
	}

	if immediate && event.IsBulk && event.BatchID != uuid.Nil {
		if len(m.seenBulks) >= maxTrackedBulks {
			m.seenBulks = map[uuid.UUID]struct{}{}
		}
		m.seenBulks[event.BatchID] = struct{}{}
	}

	m.buf.clear()
	m.logger.Info("auto-version created",
		zap.String("version_id", version.ID.String()),
		zap.Int64("version_number", version.VersionNumber),
		zap.String("reason", reason),
	)
	return nil
}

// classify decides whether the event forces an immediate version.
func (m *Monitor) classify(event domain.CatalogEvent) (string, bool) {
	if event.ChangeType == domain.ChangeTypeDelete {
		return fmt.Sprintf("auto: %s deleted", event.EntityType), true
	}
	if event.ChangeType == domain.ChangeTypeUpdate && event.CriticalFieldChanged() {
		return fmt.Sprintf("auto: critical field change on %s", event.EntityType), true
	}
	if event.IsBulk && event.BulkCount > m.cfg.BulkLimit {
		return fmt.Sprintf("auto: bulk change of %d entities", event.BulkCount), true
	}
	return "", false
}

// Pending reports the current buffer state for observability.
func (m *Monitor) Pending() (count int, distinct int, oldest time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.count, len(m.buf.touched), m.buf.oldest
}

// Reset clears the buffer and the bulk dedup set. Exposed for tests and for
// operators after manual intervention.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.clear()
	m.seenBulks = map[uuid.UUID]struct{}{}
}
