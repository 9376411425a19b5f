package xlsx

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/admissions-report/internal/table"
)

func str(v string) table.Value { return table.Str(v) }
func num(v int64) table.Value  { return table.IntValue(v) }

func detailedTable() table.Table {
	return table.MustNew(
		[]string{"Application Term", "Program", "CURRICULUM", "DEGREE", "Submitted Applicants"},
		[][]table.Value{
			{str("FALL 2025"), str("Nursing"), str("RN"), str("BSN"), num(5)},
			{str("FALL 2025"), str("Business"), str("MGT"), str("BS"), num(3)},
			{str("FALL 2025"), str("Total"), str(""), str(""), num(8)},
			{str("Grand Total"), str(""), str(""), str(""), num(8)},
		},
	)
}

func writeSample(t *testing.T) (string, []string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.xlsx")
	names, err := Write(path, []Sheet{
		{Name: "Progress Report", Table: detailedTable()},
		{Name: "Raw Data", Table: table.MustNew([]string{"FIRST_NAME", "LAST_NAME"}, [][]table.Value{{str("Jane"), str("Doe")}})},
		{Name: "ERROR_Application Status Breakd", Table: table.MustNew([]string{"Error"}, [][]table.Value{{str("Could not load/process data for view X: boom")}})},
		{Name: "raw data", Table: table.Empty([]string{"A"})},
		{Name: "a/b:c", Table: table.Table{}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return path, names
}

func TestWriteSheetsInOrder(t *testing.T) {
	path, names := writeSample(t)
	want := []string{"Progress Report", "Raw Data", "ERROR_Application Status Breakd", "raw data (2)", "a_b_c"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sheet list = %v", got)
	}
	rows, err := f.GetRows("Progress Report")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 5 || rows[0][4] != "Submitted Applicants" || rows[1][4] != "5" || rows[4][0] != "Grand Total" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	empty, err := f.GetRows("raw data (2)")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(empty) != 1 || empty[0][0] != "A" {
		t.Fatalf("empty table should still have its header, got %v", empty)
	}
}

func TestFormatDetailedSheet(t *testing.T) {
	path, _ := writeSample(t)
	opts := FormatOptions{
		Layouts: map[string]Layout{"Progress Report": LayoutDetailed},
		Detailed: DetailedColumns{
			Term:            "Application Term",
			Program:         "Program",
			LastLabel:       "DEGREE",
			SubtotalLabel:   "Total",
			GrandTotalLabel: "Grand Total",
		},
	}
	if err := Format(path, opts); err != nil {
		t.Fatalf("format: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	merges, err := f.GetMergeCells("Progress Report")
	if err != nil {
		t.Fatalf("merges: %v", err)
	}
	var ranges []string
	for _, m := range merges {
		ranges = append(ranges, m.GetStartAxis()+":"+m.GetEndAxis())
	}
	for _, want := range []string{"A2:A4", "B4:D4", "A5:D5"} {
		found := false
		for _, r := range ranges {
			if r == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing merge %s in %v", want, ranges)
		}
	}
	if len(ranges) != 3 {
		t.Fatalf("expected 3 merges, got %v", ranges)
	}

	panes, err := f.GetPanes("Progress Report")
	if err != nil {
		t.Fatalf("panes: %v", err)
	}
	if !panes.Freeze || panes.YSplit != 1 {
		t.Fatalf("header row not frozen: %+v", panes)
	}

	styleOf := func(cell string) *excelize.Style {
		t.Helper()
		id, err := f.GetCellStyle("Progress Report", cell)
		if err != nil {
			t.Fatalf("cell style %s: %v", cell, err)
		}
		st, err := f.GetStyle(id)
		if err != nil {
			t.Fatalf("style %d: %v", id, err)
		}
		return st
	}
	hasFill := func(st *excelize.Style, color string) bool {
		return len(st.Fill.Color) > 0 && strings.HasSuffix(strings.ToUpper(st.Fill.Color[0]), color)
	}
	if st := styleOf("E5"); st.Font == nil || !st.Font.Bold || !hasFill(st, fillGrandTotal) {
		t.Fatalf("grand total cell not styled: %+v", st)
	}
	if st := styleOf("E4"); st.Font == nil || !st.Font.Bold || !hasFill(st, fillTotal) {
		t.Fatalf("subtotal cell not styled: %+v", st)
	}
	if st := styleOf("E2"); !hasFill(st, fillAltRow) {
		t.Fatalf("first data row should be striped: %+v", st)
	}
	if st := styleOf("A1"); st.Font == nil || !st.Font.Bold {
		t.Fatalf("header should be bold")
	}

	// Merged term cells do not count toward the width of column A.
	if w, err := f.GetColWidth("Progress Report", "A"); err != nil || w != float64(len("Application Term")+widthPadding) {
		t.Fatalf("column A width = %v (%v)", w, err)
	}
	if w, err := f.GetColWidth("Progress Report", "E"); err != nil || w != float64(len("Submitted Applicants")+widthPadding) {
		t.Fatalf("column E width = %v (%v)", w, err)
	}

	errID, err := f.GetCellStyle("ERROR_Application Status Breakd", "A1")
	if err != nil {
		t.Fatalf("error header style: %v", err)
	}
	errStyle, err := f.GetStyle(errID)
	if err != nil {
		t.Fatalf("style: %v", err)
	}
	if errStyle.Font == nil || !errStyle.Font.Bold || !strings.HasSuffix(strings.ToUpper(errStyle.Font.Color), "FF0000") {
		t.Fatalf("error header should be red bold: %+v", errStyle.Font)
	}

	rawPanes, err := f.GetPanes("Raw Data")
	if err != nil || !rawPanes.Freeze {
		t.Fatalf("plain sheets freeze the header: %+v %v", rawPanes, err)
	}
}

func TestFormatDetailedWithoutLabelColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	tb := table.MustNew([]string{"Program", "Submitted"}, [][]table.Value{{str("A"), num(1)}})
	if _, err := Write(path, []Sheet{{Name: "Progress Report", Table: tb}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts := FormatOptions{
		Layouts:  map[string]Layout{"Progress Report": LayoutDetailed},
		Detailed: DetailedColumns{Term: "Application Term", Program: "Program", LastLabel: "DEGREE"},
	}
	if err := Format(path, opts); err != nil {
		t.Fatalf("format should degrade to widths only: %v", err)
	}
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{}
	long := strings.Repeat("x", 31)
	if got := uniqueName(long, used); got != long {
		t.Fatalf("first use changed the name: %q", got)
	}
	got := uniqueName(long, used)
	if len([]rune(got)) != 31 || !strings.HasSuffix(got, " (2)") {
		t.Fatalf("second use = %q", got)
	}
}
