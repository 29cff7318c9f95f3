package comparison

import (
	"testing"

	"github.com/google/uuid"

	"github.com/pattersonrw/menuvault/internal/domain"
)

func snapWith(props map[string]any, path string, active bool) domain.EntitySnapshot {
	return domain.EntitySnapshot{
		EntityType:       domain.EntityTypeItem,
		OriginalEntityID: uuid.New(),
		Path:             path,
		Properties:       props,
		IsActive:         active,
	}
}

func TestDiffSnapshotsNumericEpsilon(t *testing.T) {
	from := snapWith(map[string]any{"price": 10.00}, "1", true)
	to := snapWith(map[string]any{"price": 12.50}, "1", true)

	diffs := DiffSnapshots(from, to)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Field != "price" {
		t.Errorf("diff field = %q, want price", diffs[0].Field)
	}

	// Below the epsilon the same pair is identical.
	to.Properties["price"] = 10.004
	if diffs := DiffSnapshots(from, to); len(diffs) != 0 {
		t.Errorf("sub-epsilon price change should not diff, got %+v", diffs)
	}
}

func TestDiffSnapshotsNestedProperties(t *testing.T) {
	from := snapWith(map[string]any{
		"name": "Burger",
		"nutrition": map[string]any{
			"calories":  550,
			"allergens": []any{"gluten", "soy"},
		},
	}, "1.2", true)
	to := snapWith(map[string]any{
		"name": "Burger",
		"nutrition": map[string]any{
			"calories":  610,
			"allergens": []any{"gluten", "soy"},
		},
	}, "1.2", true)
	to.OriginalEntityID = from.OriginalEntityID

	diffs := DiffSnapshots(from, to)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Field != "nutrition.calories" {
		t.Errorf("diff field = %q, want nutrition.calories", diffs[0].Field)
	}
}

func TestDiffSnapshotsPathAndActiveAreFields(t *testing.T) {
	from := snapWith(map[string]any{"name": "Sides"}, "2", true)
	to := snapWith(map[string]any{"name": "Sides"}, "3", false)

	diffs := DiffSnapshots(from, to)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Field != "is_active" || diffs[1].Field != "path" {
		t.Errorf("unexpected field order: %q, %q", diffs[0].Field, diffs[1].Field)
	}
}

func TestDiffSnapshotsFieldAddedAndRemoved(t *testing.T) {
	from := snapWith(map[string]any{"name": "Cola", "size": "330ml"}, "4", true)
	to := snapWith(map[string]any{"name": "Cola", "sugar_free": true}, "4", true)

	diffs := DiffSnapshots(from, to)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d: %+v", len(diffs), diffs)
	}
	for _, diff := range diffs {
		switch diff.Field {
		case "size":
			if diff.NewValue != nil {
				t.Errorf("removed field should have nil new value, got %v", diff.NewValue)
			}
		case "sugar_free":
			if diff.OldValue != nil {
				t.Errorf("added field should have nil old value, got %v", diff.OldValue)
			}
		default:
			t.Errorf("unexpected diff field %q", diff.Field)
		}
	}
}

func TestChangedFieldNames(t *testing.T) {
	from := snapWith(map[string]any{"name": "a", "price": 1.0}, "1", true)
	to := snapWith(map[string]any{"name": "b", "price": 9.0}, "1", true)

	names := ChangedFieldNames(DiffSnapshots(from, to))
	if len(names) != 2 || names[0] != "name" || names[1] != "price" {
		t.Errorf("unexpected changed field names: %v", names)
	}
}
