package pipeline

import (
	"math"
	"strconv"
	"strings"
)

var termRanks = map[string]int{
	"SPRING": 0,
	"SUMMER": 1,
	"FALL":   2,
}

// TermKey orders academic terms such as "FALL 2025": by year, then Spring,
// Summer, Fall. Unknown names and missing years sort last.
func TermKey(term string) (year, rank int) {
	year, rank = math.MaxInt, math.MaxInt
	parts := strings.Fields(strings.ToUpper(term))
	if len(parts) == 0 {
		return year, rank
	}
	if r, ok := termRanks[parts[0]]; ok {
		rank = r
	}
	if len(parts) > 1 {
		if y, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			year = y
		}
	}
	return year, rank
}
