package comparison

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pattersonrw/menuvault/internal/domain"
)

type fakeSnapshotSource struct {
	sets  map[uuid.UUID]domain.SnapshotSet
	loads int
}

func (f *fakeSnapshotSource) LoadVersionSet(_ context.Context, versionID uuid.UUID) (domain.SnapshotSet, error) {
	f.loads++
	set, ok := f.sets[versionID]
	if !ok {
		return domain.NewSnapshotSet(), nil
	}
	return set, nil
}

type fakeVersionSource struct {
	versions map[uuid.UUID]domain.Version
}

func (f *fakeVersionSource) GetByID(_ context.Context, id uuid.UUID) (domain.Version, error) {
	version, ok := f.versions[id]
	if !ok {
		return domain.Version{}, domain.NewNotFoundError("version", id)
	}
	return version, nil
}

func setOf(versionID uuid.UUID, snaps ...domain.EntitySnapshot) domain.SnapshotSet {
	set := domain.NewSnapshotSet()
	for _, snap := range snaps {
		snap.VersionID = versionID
		set.Insert(snap)
	}
	return set
}

func itemSnap(id uuid.UUID, name string, price float64) domain.EntitySnapshot {
	return domain.EntitySnapshot{
		OriginalEntityID: id,
		EntityType:       domain.EntityTypeItem,
		Path:             "1." + name,
		Properties:       map[string]any{"name": name, "price": price},
		IsActive:         true,
	}
}

func TestCompareClassifiesAddedRemovedModified(t *testing.T) {
	fromID, toID := uuid.New(), uuid.New()
	kept := uuid.New()
	removed := uuid.New()
	added := uuid.New()

	snapshots := &fakeSnapshotSource{sets: map[uuid.UUID]domain.SnapshotSet{
		fromID: setOf(fromID, itemSnap(kept, "burger", 10.00), itemSnap(removed, "wrap", 7.00)),
		toID:   setOf(toID, itemSnap(kept, "burger", 12.50), itemSnap(added, "salad", 6.00)),
	}}
	versions := &fakeVersionSource{versions: map[uuid.UUID]domain.Version{
		fromID: {ID: fromID},
		toID:   {ID: toID},
	}}
	engine := NewEngine(snapshots, versions, nil)

	cmp, err := engine.Compare(context.Background(), fromID, toID, true)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	totals := cmp.Summary.Totals
	if totals.Added != 1 || totals.Removed != 1 || totals.Modified != 1 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if len(cmp.Details) != 3 {
		t.Fatalf("expected 3 detail entries, got %d", len(cmp.Details))
	}
	for _, detail := range cmp.Details {
		switch detail.OriginalEntityID {
		case added:
			if detail.Kind != domain.DiffAdded {
				t.Errorf("added entity classified as %q", detail.Kind)
			}
		case removed:
			if detail.Kind != domain.DiffRemoved {
				t.Errorf("removed entity classified as %q", detail.Kind)
			}
		case kept:
			if detail.Kind != domain.DiffModified {
				t.Errorf("modified entity classified as %q", detail.Kind)
			}
			if len(detail.Fields) != 1 || detail.Fields[0].Field != "price" {
				t.Errorf("unexpected field diffs: %+v", detail.Fields)
			}
		}
	}
}

func TestCompareOrderingIsDeterministic(t *testing.T) {
	fromID, toID := uuid.New(), uuid.New()
	catID := uuid.New()
	itemA := uuid.New()
	itemB := uuid.New()

	category := domain.EntitySnapshot{
		OriginalEntityID: catID,
		EntityType:       domain.EntityTypeCategory,
		Path:             "9",
		Properties:       map[string]any{"name": "drinks"},
		IsActive:         true,
	}
	snapshots := &fakeSnapshotSource{sets: map[uuid.UUID]domain.SnapshotSet{
		fromID: setOf(fromID),
		toID:   setOf(toID, itemSnap(itemA, "a", 1), itemSnap(itemB, "b", 2), category),
	}}
	versions := &fakeVersionSource{versions: map[uuid.UUID]domain.Version{
		fromID: {ID: fromID},
		toID:   {ID: toID},
	}}
	engine := NewEngine(snapshots, versions, nil)

	first, err := engine.Compare(context.Background(), fromID, toID, true)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	// Categories precede items regardless of insertion order, and items sort
	// by ascending id.
	if first.Details[0].OriginalEntityID != catID {
		t.Errorf("expected category first, got %s %s", first.Details[0].EntityType, first.Details[0].OriginalEntityID)
	}
	wantSecond, wantThird := itemA, itemB
	if itemB.String() < itemA.String() {
		wantSecond, wantThird = itemB, itemA
	}
	if first.Details[1].OriginalEntityID != wantSecond || first.Details[2].OriginalEntityID != wantThird {
		t.Errorf("items out of order: %s then %s", first.Details[1].OriginalEntityID, first.Details[2].OriginalEntityID)
	}

	second, err := engine.Compare(context.Background(), fromID, toID, true)
	if err != nil {
		t.Fatalf("Compare (repeat): %v", err)
	}
	for i := range first.Details {
		if first.Details[i].OriginalEntityID != second.Details[i].OriginalEntityID {
			t.Fatalf("ordering not stable at index %d", i)
		}
	}
}

func TestCompareCachesUntilInvalidated(t *testing.T) {
	fromID, toID := uuid.New(), uuid.New()
	snapshots := &fakeSnapshotSource{sets: map[uuid.UUID]domain.SnapshotSet{
		fromID: setOf(fromID, itemSnap(uuid.New(), "x", 1)),
		toID:   setOf(toID),
	}}
	versions := &fakeVersionSource{versions: map[uuid.UUID]domain.Version{
		fromID: {ID: fromID},
		toID:   {ID: toID},
	}}
	engine := NewEngine(snapshots, versions, nil)

	ctx := context.Background()
	if _, err := engine.Compare(ctx, fromID, toID, false); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	loadsAfterFirst := snapshots.loads

	if _, err := engine.Compare(ctx, fromID, toID, false); err != nil {
		t.Fatalf("Compare (cached): %v", err)
	}
	if snapshots.loads != loadsAfterFirst {
		t.Fatalf("cached compare reloaded snapshots: %d -> %d", loadsAfterFirst, snapshots.loads)
	}

	engine.Invalidate(toID)
	if _, err := engine.Compare(ctx, fromID, toID, false); err != nil {
		t.Fatalf("Compare (after invalidate): %v", err)
	}
	if snapshots.loads == loadsAfterFirst {
		t.Fatal("invalidated compare did not reload snapshots")
	}
}

func TestCompareSkipsCacheForDeletedVersions(t *testing.T) {
	fromID, toID := uuid.New(), uuid.New()
	deletedAt := time.Now()
	snapshots := &fakeSnapshotSource{sets: map[uuid.UUID]domain.SnapshotSet{
		fromID: setOf(fromID),
		toID:   setOf(toID),
	}}
	versions := &fakeVersionSource{versions: map[uuid.UUID]domain.Version{
		fromID: {ID: fromID, DeletedAt: &deletedAt},
		toID:   {ID: toID},
	}}
	engine := NewEngine(snapshots, versions, nil)

	ctx := context.Background()
	if _, err := engine.Compare(ctx, fromID, toID, false); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	loadsAfterFirst := snapshots.loads
	if _, err := engine.Compare(ctx, fromID, toID, false); err != nil {
		t.Fatalf("Compare (repeat): %v", err)
	}
	if snapshots.loads == loadsAfterFirst {
		t.Fatal("comparison involving a deleted version must not be served from cache")
	}
}

func TestCompareUnknownVersion(t *testing.T) {
	engine := NewEngine(&fakeSnapshotSource{}, &fakeVersionSource{versions: map[uuid.UUID]domain.Version{}}, nil)
	_, err := engine.Compare(context.Background(), uuid.New(), uuid.New(), false)
	if err == nil {
		t.Fatal("expected error for unknown versions")
	}
}
