package textdiff

import (
	"reflect"
	"testing"

	"github.com/brunobiangulo/docdiff/page"
)

func spans(texts ...string) []page.Span {
	out := make([]page.Span, len(texts))
	for i, t := range texts {
		out[i] = page.Span{Text: t, BBox: page.BBox{X: i * 10, Y: 0, W: 8, H: 8}}
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Total: 1 000.00", "TOTAL:1000.00"},
		{"  date\t2024-01-01\n", "DATE2024-01-01"},
		{"1,000.00", "1,000.00"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiffIdentical(t *testing.T) {
	inputs := [][]page.Span{
		nil,
		spans("A"),
		spans("TOTAL", "TOTAL", "1,000.00", ""),
		spans("x", "y", "x", "z", "y"),
	}
	for _, x := range inputs {
		src, tgt := Diff(x, x)
		if len(src) != 0 || len(tgt) != 0 {
			t.Errorf("Diff(X, X) = %v, %v; want empty", src, tgt)
		}
	}
}

func TestDiffPermutationIsEqual(t *testing.T) {
	src, tgt := Diff(spans("a", "b", "c"), spans("C", "a", " b "))
	if len(src) != 0 || len(tgt) != 0 {
		t.Errorf("Diff = %v, %v; want empty for reordered bag", src, tgt)
	}
}

func TestDiffSourceOnlyValue(t *testing.T) {
	src, tgt := Diff(spans("INVOICE", "ONLY-HERE", "DATE"), spans("DATE", "INVOICE"))
	if !reflect.DeepEqual(src, []int{1}) {
		t.Errorf("source diff = %v, want [1]", src)
	}
	if len(tgt) != 0 {
		t.Errorf("target diff = %v, want empty", tgt)
	}
}

func TestDiffExcessOccurrences(t *testing.T) {
	// Three "PCS" on the source, one on the target: the second and third
	// source occurrences are the excess.
	src, tgt := Diff(spans("PCS", "10", "PCS", "PCS"), spans("10", "PCS", "20"))
	if !reflect.DeepEqual(src, []int{2, 3}) {
		t.Errorf("source diff = %v, want [2 3]", src)
	}
	if !reflect.DeepEqual(tgt, []int{2}) {
		t.Errorf("target diff = %v, want [2]", tgt)
	}
}

func TestDiffThousandsSeparator(t *testing.T) {
	src, tgt := Diff(
		spans("TOTAL:1000.00", "DATE:2024-01-01"),
		spans("TOTAL:1,000.00", "DATE:2024-01-01"),
	)
	if !reflect.DeepEqual(src, []int{0}) || !reflect.DeepEqual(tgt, []int{0}) {
		t.Errorf("Diff = %v, %v; want [0], [0]", src, tgt)
	}
}

func TestDiffEmptySide(t *testing.T) {
	src, tgt := Diff(spans("A", "B"), nil)
	if !reflect.DeepEqual(src, []int{0, 1}) || len(tgt) != 0 {
		t.Errorf("Diff = %v, %v", src, tgt)
	}
}
