package comparison

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pattersonrw/menuvault/internal/domain"
)

// flattenSnapshot renders a snapshot's comparable state as leaf values keyed
// by dotted path. Hierarchy position and the live flag are comparable fields
// alongside the property bag.
func flattenSnapshot(snap domain.EntitySnapshot) map[string]any {
	flattened := map[string]any{
		"path":      snap.Path,
		"is_active": snap.IsActive,
	}
	flattenValue("", snap.Properties, flattened)
	return flattened
}

func flattenValue(prefix string, value any, acc map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = map[string]any{}
			}
			return
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			flattenValue(nextPrefix, typed[key], acc)
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = []any{}
			}
			return
		}
		for idx, item := range typed {
			flattenValue(fmt.Sprintf("%s[%d]", prefix, idx), item, acc)
		}
	default:
		if prefix != "" {
			acc[prefix] = typed
		}
	}
}

// leavesEqual compares two flattened leaf values. Numeric leaves use the
// shared epsilon so currency noise below a cent never counts as a change;
// everything else falls back to encoded equality.
func leavesEqual(a, b any) bool {
	aNum, aIsNum := asFloat(a)
	bNum, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return domain.FloatEquals(aNum, bNum)
	}
	if aIsNum != bIsNum {
		return false
	}

	switch a.(type) {
	case string, bool, nil:
		return a == b
	}

	aJSON, aErr := json.Marshal(a)
	bJSON, bErr := json.Marshal(b)
	if aErr != nil || bErr != nil {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	return string(aJSON) == string(bJSON)
}

func asFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	}
	return 0, false
}

// DiffSnapshots returns the field-level differences between two snapshots of
// the same entity, in ascending field order.
func DiffSnapshots(from, to domain.EntitySnapshot) []domain.FieldDiff {
	return diffFlattened(flattenSnapshot(from), flattenSnapshot(to))
}

func diffFlattened(from, to map[string]any) []domain.FieldDiff {
	fields := map[string]struct{}{}
	for key := range from {
		fields[key] = struct{}{}
	}
	for key := range to {
		fields[key] = struct{}{}
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	diffs := []domain.FieldDiff{}
	for _, key := range keys {
		oldValue, inFrom := from[key]
		newValue, inTo := to[key]
		if inFrom && inTo && leavesEqual(oldValue, newValue) {
			continue
		}
		diffs = append(diffs, domain.FieldDiff{Field: key, OldValue: oldValue, NewValue: newValue})
	}
	return diffs
}

// ChangedFieldNames reduces a field diff to the ordered list of field names,
// the form stored on snapshot rows.
func ChangedFieldNames(diffs []domain.FieldDiff) []string {
	if len(diffs) == 0 {
		return nil
	}
	names := make([]string, len(diffs))
	for i, diff := range diffs {
		names[i] = diff.Field
	}
	return names
}
