// Package export renders versioning data as spreadsheet reports for
// operators who review catalog history outside the API.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pattersonrw/menuvault/internal/domain"
)

const (
	summarySheet = "Summary"
	detailSheet  = "Changes"
	auditSheet   = "Audit Log"
)

// WriteComparisonXLSX renders a version comparison as a two-sheet workbook:
// a per-type summary and, when the comparison carries details, one row per
// field-level change.
func WriteComparisonXLSX(w io.Writer, cmp domain.Comparison) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	f.SetSheetName(f.GetSheetName(0), summarySheet)

	header := []any{"Entity Type", "Added", "Removed", "Modified"}
	if err := writeRow(f, summarySheet, 1, header); err != nil {
		return err
	}
	row := 2
	for _, entityType := range domain.EntityTypes {
		counts, ok := cmp.Summary.PerType[entityType]
		if !ok {
			continue
		}
		values := []any{string(entityType), counts.Added, counts.Removed, counts.Modified}
		if err := writeRow(f, summarySheet, row, values); err != nil {
			return err
		}
		row++
	}
	totals := cmp.Summary.Totals
	if err := writeRow(f, summarySheet, row, []any{"total", totals.Added, totals.Removed, totals.Modified}); err != nil {
		return err
	}

	if len(cmp.Details) > 0 {
		if _, err := f.NewSheet(detailSheet); err != nil {
			return fmt.Errorf("failed to create changes sheet: %w", err)
		}
		detailHeader := []any{"Entity Type", "Entity ID", "Path", "Change", "Field", "Old Value", "New Value"}
		if err := writeRow(f, detailSheet, 1, detailHeader); err != nil {
			return err
		}
		row = 2
		for _, diff := range cmp.Details {
			if len(diff.Fields) == 0 {
				values := []any{
					string(diff.EntityType),
					diff.OriginalEntityID.String(),
					diff.Path,
					string(diff.Kind),
					"", "", "",
				}
				if err := writeRow(f, detailSheet, row, values); err != nil {
					return err
				}
				row++
				continue
			}
			for _, field := range diff.Fields {
				values := []any{
					string(diff.EntityType),
					diff.OriginalEntityID.String(),
					diff.Path,
					string(diff.Kind),
					field.Field,
					renderValue(field.OldValue),
					renderValue(field.NewValue),
				}
				if err := writeRow(f, detailSheet, row, values); err != nil {
					return err
				}
				row++
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// WriteAuditXLSX renders audit entries as a single-sheet workbook, newest
// first in whatever order the caller queried them.
func WriteAuditXLSX(w io.Writer, entries []domain.AuditLogEntry) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	f.SetSheetName(f.GetSheetName(0), auditSheet)

	header := []any{"Timestamp", "Action", "Entity Type", "Entity ID", "Change", "Actor", "Version ID", "Batch ID"}
	if err := writeRow(f, auditSheet, 1, header); err != nil {
		return err
	}
	for i, entry := range entries {
		versionID := ""
		if entry.VersionID != nil {
			versionID = entry.VersionID.String()
		}
		values := []any{
			entry.CreatedAt.Format(time.RFC3339),
			string(entry.Action),
			string(entry.EntityType),
			entry.EntityID.String(),
			string(entry.ChangeType),
			entry.Actor,
			versionID,
			entry.BatchID.String(),
		}
		if err := writeRow(f, auditSheet, i+2, values); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to compute cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d on %s: %w", row, sheet, err)
	}
	return nil
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
