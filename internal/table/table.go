package table

import (
	"fmt"
)

// Table is an ordered set of named columns over rows of cells. Operations
// never modify the receiver; they return a new Table.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New builds a table. Column names must be unique. Short rows are padded
// with Null cells and long rows are rejected.
func New(columns []string, rows [][]Value) (Table, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := idx[c]; dup {
			return Table{}, fmt.Errorf("duplicate column %q", c)
		}
		idx[c] = i
	}
	out := make([][]Value, len(rows))
	for r, row := range rows {
		if len(row) > len(columns) {
			return Table{}, fmt.Errorf("row %d has %d cells, table has %d columns", r, len(row), len(columns))
		}
		cp := make([]Value, len(columns))
		copy(cp, row)
		out[r] = cp
	}
	cols := append([]string(nil), columns...)
	return Table{columns: cols, index: idx, rows: out}, nil
}

// MustNew is New for callers that control the column names.
func MustNew(columns []string, rows [][]Value) Table {
	t, err := New(columns, rows)
	if err != nil {
		panic(err)
	}
	return t
}

// Empty returns a table with the given header and no rows.
func Empty(columns []string) Table { return MustNew(columns, nil) }

func (t Table) Len() int      { return len(t.rows) }
func (t Table) Width() int    { return len(t.columns) }
func (t Table) IsEmpty() bool { return len(t.rows) == 0 }

// Columns returns a copy of the header.
func (t Table) Columns() []string { return append([]string(nil), t.columns...) }

func (t Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Index returns the position of col or -1.
func (t Table) Index(col string) int {
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Get returns the cell at row r in column col, or Null when col is absent.
func (t Table) Get(r int, col string) Value {
	i, ok := t.index[col]
	if !ok {
		return Value{}
	}
	return t.rows[r][i]
}

// Column returns a copy of the cells of col, or nil when col is absent.
func (t Table) Column(col string) []Value {
	i, ok := t.index[col]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// Row returns a copy of row r.
func (t Table) Row(r int) []Value { return append([]Value(nil), t.rows[r]...) }

// Rows returns a copy of every row.
func (t Table) Rows() [][]Value {
	out := make([][]Value, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i)
	}
	return out
}

// Drop removes the named columns. Names not present are ignored.
func (t Table) Drop(cols ...string) Table {
	skip := make(map[string]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	keep := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	return t.Select(keep)
}

// Select projects the table onto cols in the given order. Names not present
// are ignored.
func (t Table) Select(cols []string) Table {
	keep := make([]string, 0, len(cols))
	pos := make([]int, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		i, ok := t.index[c]
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		keep = append(keep, c)
		pos = append(pos, i)
	}
	rows := make([][]Value, len(t.rows))
	for r, row := range t.rows {
		nr := make([]Value, len(pos))
		for j, p := range pos {
			nr[j] = row[p]
		}
		rows[r] = nr
	}
	return MustNew(keep, rows)
}

// Filter keeps the rows for which keep returns true.
func (t Table) Filter(keep func(row []Value) bool) Table {
	rows := make([][]Value, 0, len(t.rows))
	for _, row := range t.rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return MustNew(t.columns, rows)
}

// Map rewrites every cell of col through fn. Absent columns leave t unchanged.
func (t Table) Map(col string, fn func(Value) Value) Table {
	i, ok := t.index[col]
	if !ok {
		return t
	}
	rows := t.Rows()
	for _, row := range rows {
		row[i] = fn(row[i])
	}
	return MustNew(t.columns, rows)
}

// Append returns t with rows added at the end.
func (t Table) Append(rows ...[]Value) Table {
	all := make([][]Value, 0, len(t.rows)+len(rows))
	all = append(all, t.rows...)
	all = append(all, rows...)
	return MustNew(t.columns, all)
}
