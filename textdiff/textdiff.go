// Package textdiff compares the text extracted from two pages as bags of
// normalized values, independent of where the text sits on the page.
package textdiff

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/docdiff/page"
)

// Normalize upper-cases s and removes all whitespace. Punctuation is kept,
// so "1,000.00" and "1000.00" stay distinct.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

// Diff returns the indices of source and target spans whose normalized text
// is not matched on the other side. When a value occurs more often on one
// side, only the excess occurrences are flagged: the first k occurrences
// are matched, where k is the other side's count. Indices are ascending.
func Diff(source, target []page.Span) (sourceIdx, targetIdx []int) {
	srcNorm := normalizeAll(source)
	tgtNorm := normalizeAll(target)
	return excess(srcNorm, counts(tgtNorm)), excess(tgtNorm, counts(srcNorm))
}

func normalizeAll(spans []page.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = Normalize(s.Text)
	}
	return out
}

func counts(values []string) map[string]int {
	m := make(map[string]int, len(values))
	for _, v := range values {
		m[v]++
	}
	return m
}

func excess(values []string, other map[string]int) []int {
	idx := []int{}
	seen := make(map[string]int, len(values))
	for i, v := range values {
		seen[v]++
		if seen[v] > other[v] {
			idx = append(idx, i)
		}
	}
	return idx
}
