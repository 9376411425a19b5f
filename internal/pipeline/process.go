package pipeline

import (
	"github.com/KaramelBytes/admissions-report/internal/table"
)

// Process runs Clean, Pivot and SortAndSubtotal. An input that is empty
// after cleaning yields an empty table with the final header.
func Process(t table.Table, spec Spec) (table.Table, error) {
	spec = spec.WithDefaults()
	cleaned := Clean(t, spec)
	if cleaned.IsEmpty() {
		return table.Empty(spec.FinalColumnOrder), nil
	}
	wide, err := Pivot(cleaned, spec)
	if err != nil {
		return table.Table{}, err
	}
	if wide.IsEmpty() {
		return wide, nil
	}
	return SortAndSubtotal(wide, spec), nil
}

// ProcessRaw drops the configured columns and projects onto SelectColumns.
// When none of SelectColumns exist the table is returned after the drops.
func ProcessRaw(t table.Table, spec RawSpec) table.Table {
	out := t.Drop(spec.DropColumns...)
	if len(spec.SelectColumns) == 0 {
		return out
	}
	sel := out.Select(spec.SelectColumns)
	if sel.Width() == 0 {
		return out
	}
	return sel
}
