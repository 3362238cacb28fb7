package correlator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ordering decides the processing order of a log family: oldest first,
// live file last.
type Ordering string

const (
	// OrderRotationIndex treats a larger numeric suffix as older
	// (engine.log-2.gz before engine.log-1.gz before engine.log). Two
	// YYYYMMDD date suffixes are compared as dates instead.
	OrderRotationIndex Ordering = "rotation-index"
	// OrderRotationDate treats the numeric suffix as a date stamp, ascending
	// (engine.log-20240101.gz before engine.log-20240102.gz).
	OrderRotationDate Ordering = "rotation-date"
	// OrderReverseLexical sorts names in descending byte order.
	OrderReverseLexical Ordering = "reverse-lexical"
)

// DefaultOrdering is used when Options.Ordering is empty.
const DefaultOrdering = OrderRotationIndex

const dateSuffixLayout = "20060102"

var rotationSuffix = regexp.MustCompile(`(\d+)$`)

// ParseOrdering validates an ordering name. Empty selects the default.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return DefaultOrdering, nil
	case OrderRotationIndex, OrderRotationDate, OrderReverseLexical:
		return o, nil
	default:
		return "", fmt.Errorf("unknown ordering %q", s)
	}
}

// Sort orders names in place.
func (o Ordering) Sort(names []string) {
	switch o {
	case OrderReverseLexical:
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	case OrderRotationDate:
		sort.SliceStable(names, func(i, j int) bool {
			return rotatedBefore(names[i], names[j], func(a, b int) bool { return a < b })
		})
	default:
		sort.SliceStable(names, func(i, j int) bool {
			return rotatedBefore(names[i], names[j], func(a, b int) bool {
				if isDateStamp(a) && isDateStamp(b) {
					return a < b
				}
				return a > b
			})
		})
	}
}

// isDateStamp reports whether n reads as a YYYYMMDD date.
func isDateStamp(n int) bool {
	if n < 10000101 || n > 99991231 {
		return false
	}
	_, err := time.Parse(dateSuffixLayout, strconv.Itoa(n))
	return err == nil
}

// rotatedBefore puts rotated files before the live one, ranks rotated files
// with older, and falls back to the name.
func rotatedBefore(a, b string, older func(a, b int) bool) bool {
	ia, rotA := rotationIndex(a)
	ib, rotB := rotationIndex(b)
	switch {
	case rotA != rotB:
		return rotA
	case rotA && ia != ib:
		return older(ia, ib)
	default:
		return a < b
	}
}

// rotationIndex returns the trailing number of name, ignoring a .gz
// extension. Files without one are live.
func rotationIndex(name string) (int, bool) {
	m := rotationSuffix.FindStringSubmatch(strings.TrimSuffix(name, gzipExt))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
