package pipeline

import (
	"fmt"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"github.com/KaramelBytes/admissions-report/internal/table"
)

// Pivot reshapes a long-form export into one row per index tuple and one
// column per category, then reconciles the result onto FinalColumnOrder.
// Tables lacking the category or value column are treated as already wide.
func Pivot(t table.Table, spec Spec) (table.Table, error) {
	spec = spec.WithDefaults()
	wide := t
	cat, val := spec.PivotCategoryColumn, spec.PivotValueColumn
	if cat != "" && val != "" && t.Has(cat) && t.Has(val) {
		for _, c := range spec.PivotIndexColumns {
			if !t.Has(c) {
				return table.Table{}, fmt.Errorf("pivot index column %q not found", c)
			}
		}
		wide = spread(t, spec.PivotIndexColumns, cat, val)
	} else {
		tl.Log(tl.Debug, palette.YellowDim, "Pivot columns '%s'/'%s' not present, keeping wide form", cat, val)
	}
	return reconcile(wide, spec), nil
}

type pivotGroup struct {
	key  []table.Value
	sums map[string]int64
}

// spread groups by the index columns in order of first appearance and sums
// the value column per category. Blank index cells group under "".
func spread(t table.Table, index []string, cat, val string) table.Table {
	var (
		groups     []*pivotGroup
		byKey      = map[string]*pivotGroup{}
		categories []string
		seenCat    = map[string]bool{}
		isIndex    = map[string]bool{}
	)
	for _, c := range index {
		isIndex[c] = true
	}
	for r := 0; r < t.Len(); r++ {
		category := t.Get(r, cat)
		if category.IsNull() {
			continue
		}
		name := category.String()
		if isIndex[name] {
			continue
		}
		key := make([]table.Value, len(index))
		parts := make([]string, len(index))
		for i, c := range index {
			v := t.Get(r, c)
			if v.IsNull() {
				v = table.Str("")
			}
			key[i] = v
			parts[i] = v.String()
		}
		k := strings.Join(parts, "\x1f")
		g, ok := byKey[k]
		if !ok {
			g = &pivotGroup{key: key, sums: map[string]int64{}}
			byKey[k] = g
			groups = append(groups, g)
		}
		if !seenCat[name] {
			seenCat[name] = true
			categories = append(categories, name)
		}
		g.sums[name] += table.Coerce(t.Get(r, val))
	}

	cols := append(append([]string(nil), index...), categories...)
	rows := make([][]table.Value, 0, len(groups))
	for _, g := range groups {
		row := make([]table.Value, 0, len(cols))
		row = append(row, g.key...)
		for _, c := range categories {
			row = append(row, table.IntValue(g.sums[c]))
		}
		rows = append(rows, row)
	}
	return table.MustNew(cols, rows)
}

// reconcile adds missing FinalColumnOrder columns, reorders to exactly that
// list and coerces numeric columns to integers.
func reconcile(t table.Table, spec Spec) table.Table {
	numeric := make(map[string]bool, len(spec.NumericColumns))
	for _, c := range spec.NumericColumns {
		numeric[c] = true
	}
	cols := t.Columns()
	rows := t.Rows()
	added := map[string]bool{}
	for _, c := range spec.FinalColumnOrder {
		if t.Has(c) || added[c] {
			continue
		}
		added[c] = true
		fill := table.Str("")
		if numeric[c] {
			fill = table.IntValue(0)
		}
		tl.Log(tl.Debug, palette.YellowDim, "Column '%s' missing after pivot, filling with '%s'", c, fill)
		cols = append(cols, c)
		for i := range rows {
			rows[i] = append(rows[i], fill)
		}
	}
	out := table.MustNew(cols, rows).Select(spec.FinalColumnOrder)
	for _, c := range spec.NumericColumns {
		out = out.Map(c, func(v table.Value) table.Value {
			return table.IntValue(table.Coerce(v))
		})
	}
	return out
}
