package table

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies what a cell holds.
type Kind uint8

const (
	Null Kind = iota
	String
	Int
)

// Value is a single cell. The zero value is Null.
type Value struct {
	kind Kind
	s    string
	i    int64
}

func Str(s string) Value     { return Value{kind: String, s: s} }
func IntValue(i int64) Value { return Value{kind: Int, i: i} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }

// Int returns the integer held by v. Only Int cells report ok.
func (v Value) Int() (int64, bool) {
	if v.kind != Int {
		return 0, false
	}
	return v.i, true
}

// String renders the cell the way it is written to a worksheet. Null renders empty.
func (v Value) String() string {
	switch v.kind {
	case String:
		return v.s
	case Int:
		return strconv.FormatInt(v.i, 10)
	default:
		return ""
	}
}

// ParseInt reads a count such as "1,234" or " 12.0 ". Blank, "N/A" and
// other text report ok=false.
func ParseInt(s string) (int64, bool) {
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return 0, false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Coerce converts v to an integer, treating anything unparsable as 0.
func Coerce(v Value) int64 {
	switch v.kind {
	case Int:
		return v.i
	case String:
		i, _ := ParseInt(v.s)
		return i
	default:
		return 0
	}
}
