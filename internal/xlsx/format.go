package xlsx

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/admissions-report/internal/utils"
)

// Layout selects the styling of a worksheet.
type Layout int

const (
	LayoutPlain Layout = iota
	// LayoutDetailed is for term/subtotal/grand-total reports.
	LayoutDetailed
	LayoutError
)

const (
	ErrorSheetPrefix = "ERROR_"

	fillAltRow     = "F2F2F2"
	fillTotal      = "D9D9D9"
	fillGrandTotal = "C9C9C9"

	widthPadding = 5
	widthMax     = 100
	widthEmpty   = 15
)

// DetailedColumns names the label columns of a detailed sheet. Columns after
// LastLabel hold counts.
type DetailedColumns struct {
	Term      string
	Program   string
	LastLabel string
	// Labels written by the pipeline on synthetic rows.
	SubtotalLabel   string
	GrandTotalLabel string
}

// FormatOptions maps worksheet names to layouts. Worksheets named with
// ErrorSheetPrefix always get LayoutError; unlisted ones get LayoutPlain.
type FormatOptions struct {
	Layouts  map[string]Layout
	Detailed DetailedColumns
}

func (o FormatOptions) layoutFor(sheet string) Layout {
	if strings.HasPrefix(sheet, ErrorSheetPrefix) {
		return LayoutError
	}
	return o.Layouts[sheet]
}

// Format reopens the workbook at path and styles every worksheet.
func Format(path string, opts FormatOptions) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	st := &styler{f: f, cache: map[cellStyle]int{}}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		sf := &sheetFormatter{f: f, st: st, sheet: sheet, rows: rows, merged: map[[2]int]bool{}}
		switch opts.layoutFor(sheet) {
		case LayoutDetailed:
			tl.Log(tl.Info, palette.Cyan, "Applying detailed styles to '%s'", sheet)
			err = sf.detailed(opts.Detailed)
		case LayoutError:
			err = sf.errorSheet()
		default:
			err = sf.plain()
		}
		if err != nil {
			return fmt.Errorf("format sheet %q: %w", sheet, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("serialize workbook: %w", err)
	}
	if err := utils.SafeWriteFile(path, buf.Bytes()); err != nil {
		return err
	}
	tl.Log(tl.Info1, palette.Green, "Formatted workbook '%s'", path)
	return nil
}

type side int8

const (
	sideNone side = iota
	sideThinWhite
	sideMediumBlack
)

type cellStyle struct {
	fill                     string
	bold, red, center        bool
	left, right, top, bottom side
}

type styler struct {
	f     *excelize.File
	cache map[cellStyle]int
}

func (s *styler) id(cs cellStyle) (int, error) {
	if id, ok := s.cache[cs]; ok {
		return id, nil
	}
	style := &excelize.Style{}
	if cs.fill != "" {
		style.Fill = excelize.Fill{Type: "pattern", Color: []string{cs.fill}, Pattern: 1}
	}
	if cs.bold || cs.red {
		style.Font = &excelize.Font{Bold: cs.bold}
		if cs.red {
			style.Font.Color = "FF0000"
		}
	}
	if cs.center {
		style.Alignment = &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	}
	for _, b := range []struct {
		typ string
		s   side
	}{{"left", cs.left}, {"right", cs.right}, {"top", cs.top}, {"bottom", cs.bottom}} {
		switch b.s {
		case sideThinWhite:
			style.Border = append(style.Border, excelize.Border{Type: b.typ, Color: "FFFFFF", Style: 1})
		case sideMediumBlack:
			style.Border = append(style.Border, excelize.Border{Type: b.typ, Color: "000000", Style: 2})
		}
	}
	id, err := s.f.NewStyle(style)
	if err != nil {
		return 0, err
	}
	s.cache[cs] = id
	return id, nil
}

type sheetFormatter struct {
	f      *excelize.File
	st     *styler
	sheet  string
	rows   [][]string
	merged map[[2]int]bool
}

// value returns the text at 1-based row and column.
func (sf *sheetFormatter) value(row, col int) string {
	if row < 1 || row > len(sf.rows) || col < 1 || col > len(sf.rows[row-1]) {
		return ""
	}
	return sf.rows[row-1][col-1]
}

func (sf *sheetFormatter) maxCol() int {
	n := 0
	for _, r := range sf.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func (sf *sheetFormatter) setStyle(row, col int, cs cellStyle) error {
	id, err := sf.st.id(cs)
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return sf.f.SetCellStyle(sf.sheet, cell, cell, id)
}

func (sf *sheetFormatter) merge(r1, c1, r2, c2 int) error {
	if r1 == r2 && c1 == c2 {
		return nil
	}
	topLeft, err := excelize.CoordinatesToCellName(c1, r1)
	if err != nil {
		return err
	}
	bottomRight, err := excelize.CoordinatesToCellName(c2, r2)
	if err != nil {
		return err
	}
	if err := sf.f.MergeCell(sf.sheet, topLeft, bottomRight); err != nil {
		return err
	}
	for r := r1; r <= r2; r++ {
		for c := c1; c <= c2; c++ {
			sf.merged[[2]int{r, c}] = true
		}
	}
	return nil
}

func (sf *sheetFormatter) freezeHeader() error {
	return sf.f.SetPanes(sf.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
		Selection:   []excelize.Selection{{SQRef: "A2", ActiveCell: "A2", Pane: "bottomLeft"}},
	})
}

func (sf *sheetFormatter) headerStyle(cs cellStyle) error {
	if len(sf.rows) == 0 {
		return nil
	}
	for c := 1; c <= len(sf.rows[0]); c++ {
		if err := sf.setStyle(1, c, cs); err != nil {
			return err
		}
	}
	return nil
}

// autoWidth sizes each column to its longest unmerged value plus padding.
func (sf *sheetFormatter) autoWidth() error {
	for c := 1; c <= sf.maxCol(); c++ {
		longest := 0
		for r := 1; r <= len(sf.rows); r++ {
			if sf.merged[[2]int{r, c}] {
				continue
			}
			if n := utf8.RuneCountInString(sf.value(r, c)); n > longest {
				longest = n
			}
		}
		width := widthEmpty
		if longest > 0 {
			width = longest + widthPadding
		}
		if width > widthMax {
			width = widthMax
		}
		col, err := excelize.ColumnNumberToName(c)
		if err != nil {
			return err
		}
		if err := sf.f.SetColWidth(sf.sheet, col, col, float64(width)); err != nil {
			return err
		}
	}
	return nil
}

func (sf *sheetFormatter) plain() error {
	if err := sf.freezeHeader(); err != nil {
		return err
	}
	if err := sf.headerStyle(cellStyle{bold: true, center: true}); err != nil {
		return err
	}
	return sf.autoWidth()
}

func (sf *sheetFormatter) errorSheet() error {
	if err := sf.headerStyle(cellStyle{bold: true, red: true}); err != nil {
		return err
	}
	return sf.autoWidth()
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i + 1
		}
	}
	return 0
}

// detailed merges term blocks and label cells of subtotal and grand-total
// rows, then applies fills, fonts and borders row by row.
func (sf *sheetFormatter) detailed(cols DetailedColumns) error {
	if err := sf.freezeHeader(); err != nil {
		return err
	}
	if len(sf.rows) <= 1 {
		tl.Log(tl.Warning, palette.PurpleBright, "Sheet '%s' has no data rows, applying header styling only", sf.sheet)
		if err := sf.headerStyle(cellStyle{bold: true, center: true}); err != nil {
			return err
		}
		return sf.autoWidth()
	}
	header := sf.rows[0]
	termCol := indexOf(header, cols.Term)
	progCol := indexOf(header, cols.Program)
	lastLabel := indexOf(header, cols.LastLabel)
	if termCol == 0 || progCol == 0 || lastLabel == 0 {
		tl.Log(
			tl.Error, palette.RedBold, "Sheet '%s' lacks one of '%s', '%s', '%s'; only adjusting widths",
			sf.sheet, cols.Term, cols.Program, cols.LastLabel,
		)
		return sf.autoWidth()
	}
	maxRow, maxCol := len(sf.rows), len(header)
	firstData := lastLabel + 1

	styles := make([][]cellStyle, maxRow+1)
	for r := range styles {
		styles[r] = make([]cellStyle, maxCol+1)
	}

	// Term blocks, stopping at the grand total.
	type block struct{ start, end int }
	var blocks []block
	start := 2
	for r := 2; r <= maxRow+1; r++ {
		cur := sf.value(r, termCol)
		if r > maxRow || cur != sf.value(start, termCol) || cur == cols.GrandTotalLabel {
			if sf.value(start, termCol) != cols.GrandTotalLabel && r-1 >= start {
				if err := sf.merge(start, termCol, r-1, termCol); err != nil {
					return err
				}
				styles[start][termCol].center = true
				if r-1 > start {
					blocks = append(blocks, block{start, r - 1})
				}
			}
			if r > maxRow || cur == cols.GrandTotalLabel {
				break
			}
			start = r
		}
	}
	for i, b := range blocks {
		if i%2 != 0 {
			continue
		}
		for r := b.start; r <= b.end; r++ {
			styles[r][termCol].fill = fillAltRow
		}
	}

	// Header.
	for c := 1; c <= maxCol; c++ {
		cs := cellStyle{bold: true, center: true, left: sideThinWhite, right: sideThinWhite, top: sideMediumBlack, bottom: sideMediumBlack}
		if c == 1 {
			cs.left = sideMediumBlack
		}
		if c == maxCol {
			cs.right = sideMediumBlack
		}
		styles[1][c] = cs
	}

	zebra := true
	for r := 2; r <= maxRow; r++ {
		isTotal := strings.TrimSpace(sf.value(r, progCol)) == cols.SubtotalLabel
		isGrand := strings.TrimSpace(sf.value(r, termCol)) == cols.GrandTotalLabel
		if isTotal && progCol < lastLabel {
			if err := sf.merge(r, progCol, r, lastLabel); err != nil {
				return err
			}
		}
		if isTotal {
			styles[r][progCol].center = true
		}
		if isGrand && termCol < lastLabel {
			if err := sf.merge(r, termCol, r, lastLabel); err != nil {
				return err
			}
		}
		if isGrand {
			styles[r][termCol].center = true
		}

		var fill string
		bold := false
		switch {
		case isGrand:
			fill, bold = fillGrandTotal, true
		case isTotal:
			fill, bold = fillTotal, true
		default:
			if zebra {
				fill = fillAltRow
			}
			zebra = !zebra
		}
		for c := 1; c <= maxCol; c++ {
			cs := styles[r][c]
			if fill != "" {
				cs.fill = fill
			}
			cs.bold = bold
			if c >= firstData {
				cs.center = true
			}
			cs.left, cs.right, cs.top, cs.bottom = sideThinWhite, sideThinWhite, sideThinWhite, sideThinWhite
			if c == 1 {
				cs.left = sideMediumBlack
			}
			if c == maxCol {
				cs.right = sideMediumBlack
			}
			if r == maxRow {
				cs.bottom = sideMediumBlack
			}
			if isTotal || isGrand {
				cs.top, cs.bottom = sideMediumBlack, sideMediumBlack
			}
			styles[r][c] = cs
		}
	}

	// Outline each term block.
	for _, b := range blocks {
		for r := b.start; r <= b.end; r++ {
			cs := &styles[r][termCol]
			cs.left, cs.right = sideMediumBlack, sideMediumBlack
			if r == b.start {
				cs.top = sideMediumBlack
			}
			if r == b.end {
				cs.bottom = sideMediumBlack
			}
		}
	}

	for r := 1; r <= maxRow; r++ {
		for c := 1; c <= maxCol; c++ {
			if err := sf.setStyle(r, c, styles[r][c]); err != nil {
				return err
			}
		}
	}
	return sf.autoWidth()
}
