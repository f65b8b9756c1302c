package fiomark

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var blockSizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)([KMGT]?)$`)

var blockSizeMultipliers = map[string]float64{
	"":  1,
	"K": 1024,
	"M": 1024 * 1024,
	"G": 1024 * 1024 * 1024,
	"T": 1024 * 1024 * 1024 * 1024,
}

// ParseBlockSizeForSort converts "4k", "512" or "1M" into a byte count.
// Unparseable input yields 0 so it sorts first. The value is only a sort key.
func ParseBlockSizeForSort(s string) float64 {
	m := blockSizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return n * blockSizeMultipliers[strings.ToUpper(m[2])]
}

// comparator to sort block size labels by byte value, ties broken lexically
type ByBlockSize []string

func (a ByBlockSize) Len() int      { return len(a) }
func (a ByBlockSize) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByBlockSize) Less(i, j int) bool {
	bi, bj := ParseBlockSizeForSort(a[i]), ParseBlockSizeForSort(a[j])
	if bi != bj {
		return bi < bj
	}
	return a[i] < a[j]
}

// SortBlockSizes returns a sorted copy; the input is left untouched.
func SortBlockSizes(sizes []string) []string {
	sorted := make([]string, len(sizes))
	copy(sorted, sizes)
	sort.Sort(ByBlockSize(sorted))
	return sorted
}
