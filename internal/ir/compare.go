package ir

import (
	"cmp"
	"strconv"
	"strings"
)

// Compare orders two scalar values the way the backing store does.
//
// ok is false when either side is NULL: SQL comparisons against NULL are
// never true. Integers, floats and booleans compare numerically. A string
// compared against a number is coerced when it parses as a number; otherwise
// numbers sort before text. Strings compare bytewise.
func Compare(a, b IRValue) (c int, ok bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}

	an, aNum := numeric(a)
	bn, bNum := numeric(b)

	switch {
	case aNum && bNum:
		return compareNumbers(an, bn), true
	case aNum:
		if s, isStr := b.(IRString); isStr {
			if n, parsed := parseNumber(string(s)); parsed {
				return compareNumbers(an, n), true
			}
		}
		return -1, true
	case bNum:
		if s, isStr := a.(IRString); isStr {
			if n, parsed := parseNumber(string(s)); parsed {
				return compareNumbers(n, bn), true
			}
		}
		return 1, true
	default:
		return strings.Compare(a.Text(), b.Text()), true
	}
}

// Equal reports whether two values are the same for change tracking.
// Unlike Compare, two NULLs are equal.
func Equal(a, b IRValue) bool {
	aNull, bNull := IsNull(a), IsNull(b)
	if aNull || bNull {
		return aNull == bNull
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Numeric reports whether v is a number (or boolean) and returns it as float64.
func Numeric(v IRValue) (float64, bool) {
	n, ok := numeric(v)
	if !ok {
		return 0, false
	}
	if n.isInt {
		return float64(n.i), true
	}
	return n.f, true
}

type number struct {
	isInt bool
	i     int64
	f     float64
}

func numeric(v IRValue) (number, bool) {
	switch val := v.(type) {
	case IRInt:
		return number{isInt: true, i: int64(val)}, true
	case IRFloat:
		return number{f: float64(val)}, true
	case IRBool:
		if val {
			return number{isInt: true, i: 1}, true
		}
		return number{isInt: true}, true
	default:
		return number{}, false
	}
}

func parseNumber(s string) (number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return number{}, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return number{isInt: true, i: i}, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return number{f: f}, true
	}
	return number{}, false
}

func compareNumbers(a, b number) int {
	if a.isInt && b.isInt {
		return cmp.Compare(a.i, b.i)
	}
	af, bf := a.f, b.f
	if a.isInt {
		af = float64(a.i)
	}
	if b.isInt {
		bf = float64(b.i)
	}
	return cmp.Compare(af, bf)
}
