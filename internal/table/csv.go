package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a comma separated export with a header row. Empty cells
// become Null, everything else is kept as text. Repeated header names get a
// ".1", ".2" suffix so every column stays addressable.
func ParseCSV(data []byte) (Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, errors.New("csv has no header row")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}
	cols := dedupeHeader(header)

	var rows [][]Value
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Table{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		row := make([]Value, len(cols))
		for i := 0; i < len(cols) && i < len(rec); i++ {
			if rec[i] != "" {
				row[i] = Str(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return New(cols, rows)
}

func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := h
		for n := 1; seen[name]; n++ {
			name = h + "." + strconv.Itoa(n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}
