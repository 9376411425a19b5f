package pipeline

import (
	"sort"
	"strings"

	"github.com/KaramelBytes/admissions-report/internal/table"
)

// SortAndSubtotal orders rows by term and program, follows each term's rows
// with a subtotal row and appends a grand total unless one is already there.
func SortAndSubtotal(t table.Table, spec Spec) table.Table {
	spec = spec.WithDefaults()
	if t.IsEmpty() {
		return t
	}
	ti := t.Index(spec.TermColumn)
	pi := t.Index(spec.ProgramColumn)
	rows := t.Rows()
	sort.SliceStable(rows, func(i, j int) bool { return rowLess(rows[i], rows[j], ti, pi) })
	if ti < 0 {
		return table.MustNew(t.Columns(), rows)
	}

	var (
		order  []string
		groups = map[string][][]table.Value{}
	)
	for _, row := range rows {
		term := termOf(row[ti])
		if _, ok := groups[term]; !ok {
			order = append(order, term)
		}
		groups[term] = append(groups[term], row)
	}

	out := make([][]table.Value, 0, len(rows)+len(order)+1)
	hasGrand := false
	for _, term := range order {
		group := groups[term]
		out = append(out, group...)
		switch term {
		case GrandTotalLabel:
			hasGrand = true
		case "":
		default:
			out = append(out, syntheticRow(t, spec, term, SubtotalLabel, group))
		}
	}
	if !hasGrand && hasAny(t, spec.SubtotalColumns) {
		out = append(out, syntheticRow(t, spec, GrandTotalLabel, "", rows))
	}
	return table.MustNew(t.Columns(), out)
}

func termOf(v table.Value) string { return strings.TrimSpace(v.String()) }

func rowLess(a, b []table.Value, ti, pi int) bool {
	if ti >= 0 {
		// An existing grand total stays behind unknown and blank terms.
		ag, bg := termOf(a[ti]) == GrandTotalLabel, termOf(b[ti]) == GrandTotalLabel
		if ag != bg {
			return bg
		}
		ay, ar := TermKey(termOf(a[ti]))
		by, br := TermKey(termOf(b[ti]))
		if ay != by {
			return ay < by
		}
		if ar != br {
			return ar < br
		}
	}
	if pi < 0 {
		return false
	}
	// Blank programs sort after named ones.
	an, bn := a[pi].IsNull(), b[pi].IsNull()
	if an || bn {
		return !an && bn
	}
	return a[pi].String() < b[pi].String()
}

func hasAny(t table.Table, cols []string) bool {
	for _, c := range cols {
		if t.Has(c) {
			return true
		}
	}
	return false
}

// syntheticRow builds a subtotal or grand-total row summing the subtotal
// columns over rows. Every other cell is "".
func syntheticRow(t table.Table, spec Spec, term, program string, rows [][]table.Value) []table.Value {
	out := make([]table.Value, t.Width())
	for i := range out {
		out[i] = table.Str("")
	}
	for _, c := range spec.SubtotalColumns {
		i := t.Index(c)
		if i < 0 {
			continue
		}
		var sum int64
		for _, row := range rows {
			sum += table.Coerce(row[i])
		}
		out[i] = table.IntValue(sum)
	}
	if i := t.Index(spec.ProgramColumn); i >= 0 {
		out[i] = table.Str(program)
	}
	out[t.Index(spec.TermColumn)] = table.Str(term)
	return out
}
