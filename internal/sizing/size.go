// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import (
	"math"
	"strconv"
)

// ParseLength parses a decimal byte length as written in pack and meta
// headers. Values that are not plain non-negative decimals or that do not
// fit in an int yield invalidErr.
func ParseLength(s string, invalidErr error) (int, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalidErr
	}
	return ToInt(n, invalidErr)
}

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddInt adds two non-negative ints, returning (result, false) on overflow.
func AddInt(a, b int) (int, bool) {
	if b > math.MaxInt-a {
		return 0, false
	}
	return a + b, true
}

// Sum adds lengths, returning overflowErr if the total does not fit in an int.
func Sum(lengths []int, overflowErr error) (int, error) {
	total := 0
	for _, n := range lengths {
		next, ok := AddInt(total, n)
		if !ok {
			return 0, overflowErr
		}
		total = next
	}
	return total, nil
}
