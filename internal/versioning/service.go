// Package versioning orchestrates the catalog version lifecycle: capture,
// publish, rollback and deletion. It is the only writer of version lifecycle
// fields and owns the invariant that at most one version is active.
package versioning

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/comparison"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
	"github.com/pattersonrw/menuvault/internal/repository"
)

// AuditWriter is the slice of the audit logger the service needs.
type AuditWriter interface {
	Write(ctx context.Context, tx db.DBTX, entry domain.AuditLogEntry) (domain.AuditLogEntry, error)
}

// Service is the versioning service.
type Service struct {
	tx        repository.TxRunner
	versions  repository.VersionRepository
	snapshots repository.SnapshotRepository
	catalog   repository.CatalogRepository
	audit     AuditWriter
	compare   *comparison.Engine
	logger    *zap.Logger

	now         func() time.Time
	maxAttempts int
	backoffBase time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy tunes the bounded retry loop for allocation and CAS
// collisions.
func WithRetryPolicy(maxAttempts int, backoffBase time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoffBase >= 0 {
			s.backoffBase = backoffBase
		}
	}
}

// NewService wires the versioning service.
func NewService(
	tx repository.TxRunner,
	versions repository.VersionRepository,
	snapshots repository.SnapshotRepository,
	catalog repository.CatalogRepository,
	auditWriter AuditWriter,
	compareEngine *comparison.Engine,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		tx:          tx,
		versions:    versions,
		snapshots:   snapshots,
		catalog:     catalog,
		audit:       auditWriter,
		compare:     compareEngine,
		logger:      logger.With(zap.String("component", "versioning")),
		now:         time.Now,
		maxAttempts: 3,
		backoffBase: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetVersion resolves one version by id.
func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error) {
	return s.versions.GetByID(ctx, id)
}

// GetActiveVersion returns the currently active version, or nil when none is
// live yet.
func (s *Service) GetActiveVersion(ctx context.Context) (*domain.Version, error) {
	return s.versions.GetActive(ctx)
}

// ListVersions returns non-deleted versions newest first plus the total
// count.
func (s *Service) ListVersions(ctx context.Context, limit, offset int) ([]domain.Version, int, error) {
	return s.versions.List(ctx, limit, offset)
}

// ListSnapshots pages through one version's snapshot rows, optionally
// narrowed to a single entity type.
func (s *Service) ListSnapshots(ctx context.Context, versionID uuid.UUID, entityType domain.EntityType, limit, offset int) ([]domain.EntitySnapshot, error) {
	if _, err := s.versions.GetByID(ctx, versionID); err != nil {
		return nil, err
	}
	return s.snapshots.ListByVersion(ctx, versionID, entityType, limit, offset)
}

// IterateSnapshots returns a lazy, restartable sequence over one version's
// snapshots.
func (s *Service) IterateSnapshots(versionID uuid.UUID, entityType domain.EntityType, pageSize int) *repository.SnapshotIterator {
	return repository.NewSnapshotIterator(s.snapshots, versionID, entityType, pageSize)
}

// CompareVersions delegates to the comparison engine.
func (s *Service) CompareVersions(ctx context.Context, fromID, toID uuid.UUID, includeDetails bool) (domain.Comparison, error) {
	return s.compare.Compare(ctx, fromID, toID, includeDetails)
}

// backoff sleeps for a jittered multiple of the base before a retry.
func (s *Service) backoff(attempt int) {
	if s.backoffBase <= 0 {
		return
	}
	d := s.backoffBase * time.Duration(attempt)
	d += time.Duration(rand.Int63n(int64(s.backoffBase)))
	time.Sleep(d)
}
