package versioning

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pattersonrw/menuvault/internal/comparison"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/domain"
	"github.com/pattersonrw/menuvault/internal/repository"
)

// fakeTxRunner runs the function directly; the fakes below are not
// transactional, which is fine for lifecycle semantics.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx db.DBTX) error) error {
	return fn(nil)
}

type fakeVersionRepo struct {
	versions  map[uuid.UUID]domain.Version
	createErr error
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{versions: map[uuid.UUID]domain.Version{}}
}

func (r *fakeVersionRepo) Create(_ context.Context, _ db.DBTX, version domain.Version) (domain.Version, error) {
	if r.createErr != nil {
		return domain.Version{}, r.createErr
	}
	for _, existing := range r.versions {
		if existing.VersionNumber == version.VersionNumber {
			return domain.Version{}, domain.NewConflictError("duplicate version number")
		}
	}
	version.CreatedAt = time.Now()
	r.versions[version.ID] = version
	return version, nil
}

func (r *fakeVersionRepo) NextVersionNumber(_ context.Context, _ db.DBTX) (int64, error) {
	var max int64
	for _, version := range r.versions {
		if version.VersionNumber > max {
			max = version.VersionNumber
		}
	}
	return max + 1, nil
}

func (r *fakeVersionRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Version, error) {
	version, ok := r.versions[id]
	if !ok {
		return domain.Version{}, domain.NewNotFoundError("version", id)
	}
	return version, nil
}

func (r *fakeVersionRepo) GetActive(_ context.Context) (*domain.Version, error) {
	for _, version := range r.versions {
		if version.IsActive && !version.IsDeleted() {
			copied := version
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeVersionRepo) List(_ context.Context, limit, offset int) ([]domain.Version, int, error) {
	all := make([]domain.Version, 0, len(r.versions))
	for _, version := range r.versions {
		if version.IsDeleted() {
			continue
		}
		all = append(all, version)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].VersionNumber > all[j].VersionNumber })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *fakeVersionRepo) ListDueScheduled(_ context.Context, now time.Time) ([]domain.Version, error) {
	var due []domain.Version
	for _, version := range r.versions {
		if version.IsDeleted() || version.IsPublished || version.ScheduledPublishAt == nil {
			continue
		}
		if !version.ScheduledPublishAt.After(now) {
			due = append(due, version)
		}
	}
	return due, nil
}

func (r *fakeVersionRepo) CountActive(_ context.Context) (int64, error) {
	var count int64
	for _, version := range r.versions {
		if version.IsActive && !version.IsDeleted() {
			count++
		}
	}
	return count, nil
}

func (r *fakeVersionRepo) Deactivate(_ context.Context, _ db.DBTX, id uuid.UUID) (bool, error) {
	version, ok := r.versions[id]
	if !ok || !version.IsActive || version.IsDeleted() {
		return false, nil
	}
	version.IsActive = false
	r.versions[id] = version
	return true, nil
}

func (r *fakeVersionRepo) Activate(_ context.Context, _ db.DBTX, id uuid.UUID, publishedAt time.Time) (bool, error) {
	version, ok := r.versions[id]
	if !ok || version.IsActive || version.IsDeleted() {
		return false, nil
	}
	version.IsActive = true
	version.IsPublished = true
	version.PublishedAt = &publishedAt
	version.ScheduledPublishAt = nil
	r.versions[id] = version
	return true, nil
}

func (r *fakeVersionRepo) Schedule(_ context.Context, _ db.DBTX, id uuid.UUID, at time.Time) error {
	version, ok := r.versions[id]
	if !ok {
		return domain.NewNotFoundError("version", id)
	}
	version.ScheduledPublishAt = &at
	r.versions[id] = version
	return nil
}

func (r *fakeVersionRepo) UpdateChangeData(_ context.Context, _ db.DBTX, id uuid.UUID, counts map[domain.EntityType]int, summary *domain.ChangesSummary) error {
	version, ok := r.versions[id]
	if !ok {
		return domain.NewNotFoundError("version", id)
	}
	version.EntityCounts = counts
	version.ChangesSummary = summary
	r.versions[id] = version
	return nil
}

func (r *fakeVersionRepo) SoftDelete(_ context.Context, _ db.DBTX, id uuid.UUID, at time.Time) error {
	version, ok := r.versions[id]
	if !ok {
		return domain.NewNotFoundError("version", id)
	}
	if version.IsActive || version.IsPublished || version.IsDeleted() {
		return domain.NewStateError("delete_version", "version lifecycle forbids delete")
	}
	version.DeletedAt = &at
	r.versions[id] = version
	return nil
}

type fakeSnapshotRepo struct {
	byVersion map[uuid.UUID][]domain.EntitySnapshot
	deleted   map[uuid.UUID]time.Time
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		byVersion: map[uuid.UUID][]domain.EntitySnapshot{},
		deleted:   map[uuid.UUID]time.Time{},
	}
}

func (r *fakeSnapshotRepo) BulkInsert(_ context.Context, _ db.DBTX, snapshots []domain.EntitySnapshot) (int64, error) {
	for _, snap := range snapshots {
		r.byVersion[snap.VersionID] = append(r.byVersion[snap.VersionID], snap)
	}
	return int64(len(snapshots)), nil
}

func (r *fakeSnapshotRepo) ListByVersion(_ context.Context, versionID uuid.UUID, entityType domain.EntityType, limit, offset int) ([]domain.EntitySnapshot, error) {
	var out []domain.EntitySnapshot
	for _, snap := range r.byVersion[versionID] {
		if entityType != "" && snap.EntityType != entityType {
			continue
		}
		out = append(out, snap)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSnapshotRepo) LoadVersionSet(_ context.Context, versionID uuid.UUID) (domain.SnapshotSet, error) {
	set := domain.NewSnapshotSet()
	for _, snap := range r.byVersion[versionID] {
		set.Insert(snap)
	}
	return set, nil
}

func (r *fakeSnapshotRepo) CopyToVersion(_ context.Context, _ db.DBTX, fromVersionID, toVersionID uuid.UUID) (int64, error) {
	var copied int64
	for _, snap := range r.byVersion[fromVersionID] {
		dup := snap
		dup.ID = uuid.New()
		dup.VersionID = toVersionID
		r.byVersion[toVersionID] = append(r.byVersion[toVersionID], dup)
		copied++
	}
	return copied, nil
}

func (r *fakeSnapshotRepo) MarkVersionDeleted(_ context.Context, _ db.DBTX, versionID uuid.UUID, at time.Time) error {
	r.deleted[versionID] = at
	return nil
}

type fakeCatalogRepo struct {
	entities map[uuid.UUID]domain.CatalogEntity
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{entities: map[uuid.UUID]domain.CatalogEntity{}}
}

func (r *fakeCatalogRepo) ListEntities(_ context.Context, _ db.DBTX, includeInactive bool) ([]domain.CatalogEntity, error) {
	var out []domain.CatalogEntity
	for _, entity := range r.entities {
		if !includeInactive && !entity.IsActive {
			continue
		}
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *fakeCatalogRepo) Upsert(_ context.Context, _ db.DBTX, entity domain.CatalogEntity) (bool, error) {
	_, existed := r.entities[entity.ID]
	r.entities[entity.ID] = entity
	return !existed, nil
}

func (r *fakeCatalogRepo) DeactivateEntity(_ context.Context, _ db.DBTX, _ domain.EntityType, id uuid.UUID) error {
	entity, ok := r.entities[id]
	if !ok {
		return domain.NewNotFoundError("entity", id)
	}
	entity.IsActive = false
	r.entities[id] = entity
	return nil
}

type fakeAuditWriter struct {
	entries []domain.AuditLogEntry
}

func (w *fakeAuditWriter) Write(_ context.Context, _ db.DBTX, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.BatchID == uuid.Nil {
		entry.BatchID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	w.entries = append(w.entries, entry)
	return entry, nil
}

func (w *fakeAuditWriter) byAction(action domain.AuditAction) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	for _, entry := range w.entries {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

type harness struct {
	service   *Service
	versions  *fakeVersionRepo
	snapshots *fakeSnapshotRepo
	catalog   *fakeCatalogRepo
	audit     *fakeAuditWriter
	engine    *comparison.Engine
	clock     *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	versions := newFakeVersionRepo()
	snapshots := newFakeSnapshotRepo()
	catalog := newFakeCatalogRepo()
	auditWriter := &fakeAuditWriter{}
	engine := comparison.NewEngine(snapshots, versions, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	service := NewService(
		fakeTxRunner{}, versions, snapshots, catalog, auditWriter, engine, nil,
		WithClock(func() time.Time { return *clock }),
		WithRetryPolicy(3, 0),
	)
	return &harness{
		service:   service,
		versions:  versions,
		snapshots: snapshots,
		catalog:   catalog,
		audit:     auditWriter,
		engine:    engine,
		clock:     clock,
	}
}

func (h *harness) addItem(name string, price float64, active bool) domain.CatalogEntity {
	entity := domain.CatalogEntity{
		ID:         uuid.New(),
		EntityType: domain.EntityTypeItem,
		Path:       "1." + name,
		Properties: map[string]any{"name": name, "price": price},
		IsActive:   active,
	}
	h.catalog.entities[entity.ID] = entity
	return entity
}

func TestCreateVersionOnEmptyCatalog(t *testing.T) {
	h := newHarness(t)

	version, err := h.service.CreateVersion(context.Background(), CreateVersionRequest{
		Name: "first", Type: domain.VersionTypeManual,
	})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if version.VersionNumber != 1 {
		t.Errorf("version number = %d, want 1", version.VersionNumber)
	}
	for entityType, count := range version.EntityCounts {
		if count != 0 {
			t.Errorf("entity count for %s = %d, want 0", entityType, count)
		}
	}
	if len(h.snapshots.byVersion[version.ID]) != 0 {
		t.Errorf("empty catalog produced %d snapshots", len(h.snapshots.byVersion[version.ID]))
	}
	if created := h.audit.byAction(domain.ActionVersionCreate); len(created) != 1 {
		t.Errorf("expected 1 version_create audit entry, got %d", len(created))
	}
}

func TestCreateVersionRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.CreateVersion(context.Background(), CreateVersionRequest{Type: "hourly"})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for bad type, got %v", err)
	}

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	_, err = h.service.CreateVersion(context.Background(), CreateVersionRequest{
		Name: string(long), Type: domain.VersionTypeManual,
	})
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for long name, got %v", err)
	}
}

func TestCreateVersionClassifiesChangesAgainstParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	burger := h.addItem("burger", 10.00, true)
	h.addItem("fries", 4.00, true)

	v1, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: v1.ID}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}

	// Drift the live catalog: reprice one item, add another.
	repriced := h.catalog.entities[burger.ID]
	repriced.Properties = map[string]any{"name": "burger", "price": 12.50}
	h.catalog.entities[burger.ID] = repriced
	h.addItem("salad", 6.00, true)

	v2, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}

	if v2.ParentVersionID == nil || *v2.ParentVersionID != v1.ID {
		t.Errorf("v2 parent = %v, want %s", v2.ParentVersionID, v1.ID)
	}
	if v2.ChangesSummary == nil {
		t.Fatal("v2 has no changes summary")
	}
	totals := v2.ChangesSummary.Totals
	if totals.Added != 1 || totals.Modified != 1 || totals.Removed != 0 {
		t.Errorf("unexpected summary totals: %+v", totals)
	}

	for _, snap := range h.snapshots.byVersion[v2.ID] {
		if snap.OriginalEntityID == burger.ID {
			if snap.ChangeType != domain.ChangeTypeUpdate {
				t.Errorf("repriced item change type = %q, want update", snap.ChangeType)
			}
			if len(snap.ChangedFields) != 1 || snap.ChangedFields[0] != "price" {
				t.Errorf("changed fields = %v, want [price]", snap.ChangedFields)
			}
		}
	}
}

func TestPublishSwapsActiveVersionAtomically(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addItem("burger", 10.00, true)
	a, err := h.service.CreateVersion(ctx, CreateVersionRequest{Name: "A", Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: a.ID}); err != nil {
		t.Fatalf("publish A: %v", err)
	}
	aPublished, _ := h.versions.GetByID(ctx, a.ID)
	aPublishedAt := *aPublished.PublishedAt

	h.addItem("fries", 4.00, true)
	b, err := h.service.CreateVersion(ctx, CreateVersionRequest{Name: "B", Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	*h.clock = h.clock.Add(time.Hour)
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: b.ID}); err != nil {
		t.Fatalf("publish B: %v", err)
	}

	aAfter, _ := h.versions.GetByID(ctx, a.ID)
	bAfter, _ := h.versions.GetByID(ctx, b.ID)
	if aAfter.IsActive {
		t.Error("A should no longer be active")
	}
	if !aAfter.IsPublished {
		t.Error("A must keep its publication record")
	}
	if !aAfter.PublishedAt.Equal(aPublishedAt) {
		t.Errorf("A published_at moved: %v -> %v", aPublishedAt, aAfter.PublishedAt)
	}
	if !bAfter.IsActive || !bAfter.IsPublished {
		t.Error("B should be active and published")
	}

	active, _ := h.versions.GetActive(ctx)
	if active == nil || active.ID != b.ID {
		t.Fatal("exactly B should be the active version")
	}
}

func TestPublishAlreadyActiveConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	version, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: version.ID}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err = h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: version.ID})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestPublishReconcilesLiveCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	burger := h.addItem("burger", 10.00, true)
	v1, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}

	// Drift: delete one captured entity, add an uncaptured one.
	delete(h.catalog.entities, burger.ID)
	stray := h.addItem("stray", 1.00, true)

	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: v1.ID}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}

	restored, ok := h.catalog.entities[burger.ID]
	if !ok {
		t.Fatal("captured entity missing live should be recreated on publish")
	}
	if !restored.IsActive {
		t.Error("recreated entity should be active")
	}

	strayAfter := h.catalog.entities[stray.ID]
	if strayAfter.IsActive {
		t.Error("live entity absent from the snapshot should be deactivated, not kept active")
	}
	if _, ok := h.catalog.entities[stray.ID]; !ok {
		t.Error("reconciliation must never hard-delete live entities")
	}

	// Every reconcile entry shares the publish batch id.
	publishes := h.audit.byAction(domain.ActionVersionPublish)
	if len(publishes) != 1 {
		t.Fatalf("expected 1 publish audit entry, got %d", len(publishes))
	}
	batchID := publishes[0].BatchID
	for _, action := range []domain.AuditAction{domain.ActionEntityCreate, domain.ActionEntityDeactivate} {
		for _, entry := range h.audit.byAction(action) {
			if entry.BatchID != batchID {
				t.Errorf("%s entry batch %s != publish batch %s", action, entry.BatchID, batchID)
			}
		}
	}
	if len(h.audit.byAction(domain.ActionEntityCreate)) != 1 {
		t.Errorf("expected 1 entity_create reconcile entry, got %d", len(h.audit.byAction(domain.ActionEntityCreate)))
	}
	if len(h.audit.byAction(domain.ActionEntityDeactivate)) != 1 {
		t.Errorf("expected 1 entity_deactivate reconcile entry, got %d", len(h.audit.byAction(domain.ActionEntityDeactivate)))
	}
}

func TestRollbackRestoresTargetState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	burger := h.addItem("burger", 10.00, true)
	v1, err := h.service.CreateVersion(ctx, CreateVersionRequest{Name: "good", Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: v1.ID}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}

	// Bad edit goes live.
	broken := h.catalog.entities[burger.ID]
	broken.Properties = map[string]any{"name": "burger", "price": 99.99}
	h.catalog.entities[burger.ID] = broken
	v2, err := h.service.CreateVersion(ctx, CreateVersionRequest{Name: "bad", Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: v2.ID}); err != nil {
		t.Fatalf("publish v2: %v", err)
	}

	restoredVersion, err := h.service.RollbackToVersion(ctx, RollbackRequest{TargetVersionID: v1.ID})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if restoredVersion.Type != domain.VersionTypeRollback {
		t.Errorf("restored version type = %q, want rollback", restoredVersion.Type)
	}
	if !restoredVersion.IsActive {
		t.Error("rollback version should be active")
	}
	// Lineage records where the catalog actually came from, the version
	// that was active when the rollback ran.
	if restoredVersion.ParentVersionID == nil || *restoredVersion.ParentVersionID != v2.ID {
		t.Errorf("rollback parent = %v, want %s", restoredVersion.ParentVersionID, v2.ID)
	}

	// The target itself stays untouched history.
	v1After, _ := h.versions.GetByID(ctx, v1.ID)
	if v1After.IsActive {
		t.Error("rollback must not reactivate the target version row")
	}

	// Live catalog is back to the captured price.
	live := h.catalog.entities[burger.ID]
	price, _ := live.Properties["price"].(float64)
	if price != 10.00 {
		t.Errorf("live price after rollback = %v, want 10.00", live.Properties["price"])
	}

	// Comparing target with the rollback version yields zero differences.
	cmp, err := h.service.CompareVersions(ctx, v1.ID, restoredVersion.ID, true)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Summary.Totals.Total() != 0 {
		t.Errorf("rollback round-trip should diff clean, got %+v", cmp.Summary.Totals)
	}

	if len(h.audit.byAction(domain.ActionVersionRollback)) != 1 {
		t.Errorf("expected 1 rollback audit entry, got %d", len(h.audit.byAction(domain.ActionVersionRollback)))
	}
}

func TestRollbackToActiveVersionFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	version, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: version.ID}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err = h.service.RollbackToVersion(ctx, RollbackRequest{TargetVersionID: version.ID})
	var state *domain.StateError
	if !errors.As(err, &state) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestScheduledPublishIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addItem("burger", 10.00, true)
	version, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	at := h.clock.Add(30 * time.Minute)
	scheduled, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: version.ID, ScheduledAt: &at})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !scheduled.IsScheduled() {
		t.Fatal("version should report scheduled")
	}
	if scheduled.IsActive {
		t.Fatal("scheduling must not activate")
	}

	// Before the scheduled time nothing happens.
	count, err := h.service.CheckScheduledPublishes(ctx)
	if err != nil {
		t.Fatalf("check (early): %v", err)
	}
	if count != 0 {
		t.Fatalf("early check published %d versions", count)
	}

	*h.clock = h.clock.Add(time.Hour)
	count, err = h.service.CheckScheduledPublishes(ctx)
	if err != nil {
		t.Fatalf("check (due): %v", err)
	}
	if count != 1 {
		t.Fatalf("due check published %d versions, want 1", count)
	}

	after, _ := h.versions.GetByID(ctx, version.ID)
	if !after.IsActive || !after.IsPublished {
		t.Fatal("scheduled version should be live after the due check")
	}

	// Running the check again is a no-op.
	count, err = h.service.CheckScheduledPublishes(ctx)
	if err != nil {
		t.Fatalf("check (repeat): %v", err)
	}
	if count != 0 {
		t.Fatalf("repeat check published %d versions, want 0", count)
	}
	if len(h.audit.byAction(domain.ActionVersionPublish)) != 1 {
		t.Errorf("expected exactly 1 publish audit entry, got %d", len(h.audit.byAction(domain.ActionVersionPublish)))
	}
}

func TestDeleteVersionRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	active, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create active: %v", err)
	}
	if _, err := h.service.PublishVersion(ctx, PublishVersionRequest{VersionID: active.ID}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	draft, err := h.service.CreateVersion(ctx, CreateVersionRequest{Type: domain.VersionTypeManual})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	err = h.service.DeleteVersion(ctx, active.ID, "")
	var state *domain.StateError
	if !errors.As(err, &state) {
		t.Fatalf("deleting the active version should StateError, got %v", err)
	}

	if err := h.service.DeleteVersion(ctx, draft.ID, ""); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	deleted, _ := h.versions.GetByID(ctx, draft.ID)
	if !deleted.IsDeleted() {
		t.Fatal("draft should be soft-deleted")
	}
	if _, ok := h.snapshots.deleted[draft.ID]; !ok {
		t.Error("snapshot rows should carry the version deletion marker")
	}

	// Idempotent: deleting again succeeds without a second audit entry.
	if err := h.service.DeleteVersion(ctx, draft.ID, ""); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if len(h.audit.byAction(domain.ActionVersionDelete)) != 1 {
		t.Errorf("expected 1 delete audit entry, got %d", len(h.audit.byAction(domain.ActionVersionDelete)))
	}

	if err := h.service.DeleteVersion(ctx, uuid.New(), ""); err == nil {
		t.Fatal("deleting an unknown version should fail")
	}
}

func TestCreateVersionExhaustsRetriesOnConflict(t *testing.T) {
	h := newHarness(t)
	h.versions.createErr = domain.NewConflictError("duplicate version number")

	_, err := h.service.CreateVersion(context.Background(), CreateVersionRequest{Type: domain.VersionTypeManual})
	var concurrency *domain.ConcurrencyError
	if !errors.As(err, &concurrency) {
		t.Fatalf("expected ConcurrencyError, got %v", err)
	}
	if concurrency.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", concurrency.Attempts)
	}
}

func TestListSnapshotsRequiresKnownVersion(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.ListSnapshots(context.Background(), uuid.New(), "", 10, 0)
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateVersionHonorsScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addItem("burger", 10.00, true)
	category := domain.CatalogEntity{
		ID:         uuid.New(),
		EntityType: domain.EntityTypeCategory,
		Path:       "1",
		Properties: map[string]any{"name": "mains"},
		IsActive:   true,
	}
	h.catalog.entities[category.ID] = category

	version, err := h.service.CreateVersion(ctx, CreateVersionRequest{
		Type:  domain.VersionTypeManual,
		Scope: []domain.EntityType{domain.EntityTypeCategory},
	})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	snaps := h.snapshots.byVersion[version.ID]
	if len(snaps) != 1 {
		t.Fatalf("scoped version captured %d snapshots, want 1", len(snaps))
	}
	if snaps[0].EntityType != domain.EntityTypeCategory {
		t.Errorf("captured %s, want category only", snaps[0].EntityType)
	}

	_, err = h.service.CreateVersion(ctx, CreateVersionRequest{
		Type:  domain.VersionTypeManual,
		Scope: []domain.EntityType{"widget"},
	})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for bad scope, got %v", err)
	}
}

func TestRecordCatalogMutationWritesAuditEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch := uuid.New()
	event := domain.CatalogEvent{
		EntityType: domain.EntityTypeItem,
		EntityID:   uuid.New(),
		ChangeType: domain.ChangeTypeUpdate,
		OldValues:  map[string]any{"price": 10.00},
		NewValues:  map[string]any{"price": 12.50},
		Actor:      "alice",
		IsBulk:     true,
		BulkCount:  8,
		BatchID:    batch,
	}
	if err := h.service.RecordCatalogMutation(ctx, event); err != nil {
		t.Fatalf("RecordCatalogMutation: %v", err)
	}

	entries := h.audit.byAction(domain.ActionEntityUpdate)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entity_update entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.EntityID != event.EntityID || entry.Actor != "alice" {
		t.Errorf("entry lost identity: %+v", entry)
	}
	if entry.OldValues["price"] != 10.00 || entry.NewValues["price"] != 12.50 {
		t.Errorf("entry lost values: old=%v new=%v", entry.OldValues, entry.NewValues)
	}
	if entry.BatchID != batch {
		t.Errorf("batch id = %s, want %s", entry.BatchID, batch)
	}
	if entry.Metadata["bulk_count"] != 8 {
		t.Errorf("bulk_count metadata = %v, want 8", entry.Metadata["bulk_count"])
	}

	err := h.service.RecordCatalogMutation(ctx, domain.CatalogEvent{
		EntityType: domain.EntityTypeItem,
		EntityID:   uuid.New(),
		ChangeType: "merge",
	})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

var _ repository.VersionRepository = (*fakeVersionRepo)(nil)
var _ repository.SnapshotRepository = (*fakeSnapshotRepo)(nil)
var _ repository.CatalogRepository = (*fakeCatalogRepo)(nil)
