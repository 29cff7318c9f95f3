package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies one of the catalog's entity tables.
type EntityType string

const (
	EntityTypeCategory       EntityType = "category"
	EntityTypeItem           EntityType = "item"
	EntityTypeOptionGroup    EntityType = "option_group"
	EntityTypeOption         EntityType = "option"
	EntityTypeItemOptionLink EntityType = "item_option_link"
)

// EntityTypes lists every entity type in canonical order. Diff output,
// snapshot capture and reconciliation all iterate in this order so results
// are deterministic.
var EntityTypes = []EntityType{
	EntityTypeCategory,
	EntityTypeItem,
	EntityTypeOptionGroup,
	EntityTypeOption,
	EntityTypeItemOptionLink,
}

// Valid reports whether the entity type is one of the known catalog types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeCategory, EntityTypeItem, EntityTypeOptionGroup, EntityTypeOption, EntityTypeItemOptionLink:
		return true
	}
	return false
}

// NumericEpsilon is the tolerance used when comparing numeric fields.
// Currency-like values that differ by less than this are considered equal.
const NumericEpsilon = 0.01

// CriticalFields are the fields whose changes trigger an immediate
// auto-version regardless of buffer state.
var CriticalFields = map[string]bool{
	"price":        true,
	"is_available": true,
}

// FloatEquals compares two numeric values using NumericEpsilon.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) <= NumericEpsilon
}

// CatalogEntity represents one live catalog record in the engine's polymorphic
// view. The live catalog's own persistence layer owns the typed business
// rules; the versioning core only needs identity, hierarchy and the full
// property bag it captures into snapshots.
type CatalogEntity struct {
	ID         uuid.UUID      `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	Path       string         `json:"path"`
	Properties map[string]any `json:"properties"`
	IsActive   bool           `json:"is_active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CopyProperties returns a shallow copy of a property bag so captured
// snapshots cannot alias live state.
func CopyProperties(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
