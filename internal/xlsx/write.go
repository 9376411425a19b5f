// Package xlsx writes report tables to an Excel workbook and applies the
// report styling.
package xlsx

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/admissions-report/internal/table"
	"github.com/KaramelBytes/admissions-report/internal/utils"
)

const (
	defaultSheet = "Sheet1"
	maxSheetName = 31
)

// Sheet is one worksheet to write.
type Sheet struct {
	Name  string
	Table table.Table
}

// Write creates the workbook at path with one worksheet per sheet, in
// order. It returns the worksheet names actually used, which differ from
// the requested ones when a name is invalid or repeated.
func Write(path string, sheets []Sheet) ([]string, error) {
	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{}
	names := make([]string, 0, len(sheets))
	for i, s := range sheets {
		name := uniqueName(sanitizeName(s.Name), used)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, fmt.Errorf("rename sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %q: %w", name, err)
		}
		if err := writeTable(f, name, s.Table); err != nil {
			return nil, fmt.Errorf("write sheet %q: %w", name, err)
		}
		tl.Log(tl.Verbose, palette.BlueDim, "Wrote sheet '%s' (%d rows)", name, s.Table.Len())
		names = append(names, name)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	if err := utils.SafeWriteFile(path, buf.Bytes()); err != nil {
		return nil, err
	}
	return names, nil
}

func writeTable(f *excelize.File, sheet string, t table.Table) error {
	if t.Width() == 0 {
		return nil
	}
	header := make([]any, 0, t.Width())
	for _, c := range t.Columns() {
		header = append(header, c)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r := 0; r < t.Len(); r++ {
		row := t.Row(r)
		cells := make([]any, len(row))
		for i, v := range row {
			if n, ok := v.Int(); ok {
				cells[i] = n
			} else {
				cells[i] = v.String()
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

var invalidSheetChars = strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")

func sanitizeName(name string) string {
	name = strings.Trim(invalidSheetChars.Replace(name), "'")
	if name == "" {
		name = "Sheet"
	}
	return truncateRunes(name, maxSheetName)
}

// uniqueName appends " (2)", " (3)" as needed. Worksheet names compare
// case-insensitively.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := " (" + strconv.Itoa(n) + ")"
		candidate = truncateRunes(name, maxSheetName-utf8.RuneCountInString(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
