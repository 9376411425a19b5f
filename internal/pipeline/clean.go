package pipeline

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/KaramelBytes/admissions-report/internal/table"
)

// Clean drops the configured columns and removes every row holding a cell
// equal to RemoveRowIfExactMatch, ignoring case and surrounding whitespace.
func Clean(t table.Table, spec Spec) table.Table {
	out := t.Drop(spec.DropColumns...)
	match := strings.TrimSpace(spec.RemoveRowIfExactMatch)
	if match == "" {
		return out
	}
	fold := cases.Fold()
	want := fold.String(match)
	return out.Filter(func(row []table.Value) bool {
		for _, v := range row {
			if v.IsNull() {
				continue
			}
			if fold.String(strings.TrimSpace(v.String())) == want {
				return false
			}
		}
		return true
	})
}
