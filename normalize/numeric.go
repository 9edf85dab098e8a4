// Package normalize parses locale-formatted numbers out of listing text.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var numberRun = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

func isGroupSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\u00a0', '\u202f', '\u2009', '\u2007':
		return true
	}
	return false
}

// joinDigitGroups drops whitespace that sits between two digits, so
// "12 500 000 ₽" becomes "12500000 ₽".
func joinDigitGroups(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	var last rune
	for i := 0; i < len(runes); {
		r := runes[i]
		if !isGroupSpace(r) {
			b.WriteRune(r)
			last = r
			i++
			continue
		}

		j := i
		for j < len(runes) && isGroupSpace(runes[j]) {
			j++
		}
		if !(unicode.IsDigit(last) && j < len(runes) && unicode.IsDigit(runes[j])) {
			b.WriteString(string(runes[i:j]))
			last = runes[j-1]
		}
		i = j
	}
	return b.String()
}

// Parse returns the first number in text. The last separator is a decimal
// point when 1-2 digits follow it; runs of 3-digit groups are thousands.
// The bool is false when text contains no digits.
func Parse(text string) (float64, bool) {
	m := numberRun.FindString(joinDigitGroups(text))
	if m == "" {
		return 0, false
	}

	groups := strings.FieldsFunc(m, func(r rune) bool { return r == '.' || r == ',' })
	last := groups[len(groups)-1]

	var digits string
	switch {
	case len(groups) == 1:
		digits = groups[0]
	case len(last) <= 2:
		digits = strings.Join(groups[:len(groups)-1], "") + "." + last
	case allThousands(groups[1:]):
		digits = strings.Join(groups, "")
	default:
		digits = groups[0] + "." + groups[1]
	}

	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func allThousands(groups []string) bool {
	for _, g := range groups {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// Int parses the first number in text and truncates it toward zero.
// Numbers outside the range of int are a miss.
func Int(text string) (int, bool) {
	v, ok := Parse(text)
	if !ok || v < math.MinInt || v >= -math.MinInt {
		return 0, false
	}
	return int(v), true
}

// Int64 is Int for currency amounts
func Int64(text string) (int64, bool) {
	v, ok := Parse(text)
	if !ok || v < math.MinInt64 || v >= -math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

// Format renders v so that Parse reads back the same value. A fraction of
// exactly three digits is padded with a zero, since Parse would take it
// for a thousands group.
func Format(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 == 3 {
		s += "0"
	}
	return s
}
