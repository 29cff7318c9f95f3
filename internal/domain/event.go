package domain

import (
	"time"

	"github.com/google/uuid"
)

// CatalogEvent is the mutation notification the live catalog's persistence
// layer emits synchronously after each committed change. It is the engine's
// only view into live catalog activity.
type CatalogEvent struct {
	EntityType EntityType
	EntityID   uuid.UUID
	ChangeType ChangeType
	OldValues  map[string]any
	NewValues  map[string]any
	Actor      string
	IsBulk     bool
	BulkCount  int
	// BatchID correlates the per-entity events of one bulk call. The live
	// catalog assigns it; every event of the same call carries the same id.
	BatchID    uuid.UUID
	OccurredAt time.Time
}

// Key returns a stable identity for the touched entity, used to track the
// set of distinct entities pending in a change buffer.
func (e CatalogEvent) Key() string {
	return string(e.EntityType) + ":" + e.EntityID.String()
}

// CriticalFieldChanged reports whether the event altered a critical field by
// more than the numeric epsilon. Non-numeric critical fields (availability
// flags) count as changed on any value difference.
func (e CatalogEvent) CriticalFieldChanged() bool {
	for field := range CriticalFields {
		oldValue, oldOK := e.OldValues[field]
		newValue, newOK := e.NewValues[field]
		if !oldOK && !newOK {
			continue
		}
		if oldOK != newOK {
			return true
		}
		oldNum, oldIsNum := asFloat(oldValue)
		newNum, newIsNum := asFloat(newValue)
		if oldIsNum && newIsNum {
			if !FloatEquals(oldNum, newNum) {
				return true
			}
			continue
		}
		if oldValue != newValue {
			return true
		}
	}
	return false
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
	}
	return 0, false
}
